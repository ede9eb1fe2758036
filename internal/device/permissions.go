package device

import (
	"context"
	"errors"
	"sync"

	"backend-vehiclecare/internal/tracker"
)

var ErrInvalidPermission = errors.New("invalid permission state")

// Permissions is a tracker.PermissionMonitor holding the state last reported
// by the device.
type Permissions struct {
	mu        sync.Mutex
	state     tracker.PermissionState
	next      int
	listeners map[int]func(tracker.PermissionState)
}

func NewPermissions() *Permissions {
	return &Permissions{
		state:     tracker.PermissionPrompt,
		listeners: map[int]func(tracker.PermissionState){},
	}
}

func (p *Permissions) Query(ctx context.Context) (tracker.PermissionState, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, nil
}

func (p *Permissions) Watch(fn func(tracker.PermissionState)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	id := p.next
	p.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

// Set stores a new state and notifies listeners when it changed.
func (p *Permissions) Set(state tracker.PermissionState) error {
	if !state.Valid() {
		return ErrInvalidPermission
	}

	p.mu.Lock()
	if p.state == state {
		p.mu.Unlock()
		return nil
	}
	p.state = state
	fns := make([]func(tracker.PermissionState), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
	return nil
}
