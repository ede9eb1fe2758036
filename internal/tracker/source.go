package tracker

import (
	"time"

	"backend-vehiclecare/internal/shared/geo"
)

type WatchID uint64

// WatchOptions mirrors the acquisition settings a positioning device understands.
type WatchOptions struct {
	HighAccuracy bool
	// Timeout bounds the wait for each fix; zero disables it.
	Timeout time.Duration
	// MaximumAge is how old a cached fix may be; zero means every fix must be fresh.
	MaximumAge time.Duration
}

func DefaultWatchOptions() WatchOptions {
	return WatchOptions{
		HighAccuracy: true,
		Timeout:      10 * time.Second,
		MaximumAge:   0,
	}
}

// PositionSource is a live stream of fixes. Callbacks may run on any goroutine
// and may still arrive shortly after ClearWatch returns.
type PositionSource interface {
	Supported() bool
	Watch(opts WatchOptions, onFix func(geo.Fix), onError func(error)) (WatchID, error)
	ClearWatch(id WatchID)
}
