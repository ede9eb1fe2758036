package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"backend-vehiclecare/internal/tracker"

	"github.com/gofiber/websocket/v2"
)

// Inbound message types.
const (
	TypeHello      = "hello"
	TypeFix        = "fix"
	TypePermission = "permission"
	TypeError      = "error"
)

// Outbound command types.
const (
	CommandWatch      = "watch"
	CommandClearWatch = "clear_watch"
	CommandRejected   = "rejected"
)

var (
	ErrUnknownMessage     = errors.New("unknown message type")
	ErrMissingCoordinates = errors.New("lat and lng required")
)

// Message is one inbound frame from a device.
type Message struct {
	Type        string                  `json:"type"`
	Geolocation *bool                   `json:"geolocation,omitempty"`
	Permission  tracker.PermissionState `json:"permission,omitempty"`
	State       tracker.PermissionState `json:"state,omitempty"`
	Lat         *float64                `json:"lat,omitempty"`
	Lng         *float64                `json:"lng,omitempty"`
	Timestamp   time.Time               `json:"timestamp"`
	Code        tracker.AcquisitionCode `json:"code,omitempty"`
	Message     string                  `json:"message,omitempty"`
}

type WatchParams struct {
	HighAccuracy bool  `json:"high_accuracy"`
	TimeoutMs    int64 `json:"timeout_ms"`
	MaximumAgeMs int64 `json:"maximum_age_ms"`
}

// Command is one outbound frame to a device.
type Command struct {
	Type    string          `json:"type"`
	WatchID tracker.WatchID `json:"watch_id,omitempty"`
	*WatchParams
	Message string `json:"message,omitempty"`
}

func watchCommand(id tracker.WatchID, opts tracker.WatchOptions) Command {
	return Command{
		Type:    CommandWatch,
		WatchID: id,
		WatchParams: &WatchParams{
			HighAccuracy: opts.HighAccuracy,
			TimeoutMs:    opts.Timeout.Milliseconds(),
			MaximumAgeMs: opts.MaximumAge.Milliseconds(),
		},
	}
}

// Conn is the subset of a websocket connection Serve needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
}

// Device binds a position source and permission monitor to one physical device.
type Device struct {
	Source      *Source
	Permissions *Permissions
	// OnAttach runs after a hello has been applied.
	OnAttach func(ctx context.Context) error
}

func New() *Device {
	return &Device{
		Source:      NewSource(),
		Permissions: NewPermissions(),
	}
}

// Handle applies one inbound message.
func (d *Device) Handle(ctx context.Context, msg Message) error {
	switch msg.Type {
	case TypeHello:
		supported := msg.Geolocation == nil || *msg.Geolocation
		d.Source.SetSupported(supported)
		if msg.Permission != "" {
			if err := d.Permissions.Set(msg.Permission); err != nil {
				return err
			}
		}
		if d.OnAttach != nil {
			return d.OnAttach(ctx)
		}
		return nil

	case TypeFix:
		if msg.Lat == nil || msg.Lng == nil {
			return ErrMissingCoordinates
		}
		_, err := d.Source.Push(Reading{Lat: *msg.Lat, Lng: *msg.Lng, Timestamp: msg.Timestamp})
		return err

	case TypePermission:
		if err := d.Permissions.Set(msg.State); err != nil {
			return err
		}
		if msg.State == tracker.PermissionDenied {
			d.Source.Fail(tracker.CodePermissionDenied, "user denied geolocation")
		}
		return nil

	case TypeError:
		code := msg.Code
		if code < tracker.CodePermissionDenied || code > tracker.CodeTimeout {
			code = tracker.CodePositionUnavailable
		}
		d.Source.Fail(code, msg.Message)
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
}

// Serve runs one device session until the connection drops. Queued commands
// are written to the device, and rejected frames are answered in place. The
// source is marked unsupported on return.
func (d *Device) Serve(ctx context.Context, conn Conn) {
	defer d.Source.SetSupported(false)
	d.Source.Resync()

	replies := make(chan Command, commandBuffer)
	done := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			var cmd Command
			select {
			case <-done:
				return
			case cmd = <-d.Source.Commands():
			case cmd = <-replies:
			}
			payload, err := json.Marshal(cmd)
			if err != nil {
				log.Printf("device command encode error: %v", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}()
	defer func() {
		close(done)
		<-writerDone
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			reject(replies, err)
			continue
		}
		if err := d.Handle(ctx, msg); err != nil {
			reject(replies, err)
		}
	}
}

func reject(replies chan<- Command, err error) {
	select {
	case replies <- Command{Type: CommandRejected, Message: err.Error()}:
	default:
	}
}
