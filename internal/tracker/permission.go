package tracker

import "context"

type PermissionState string

const (
	PermissionGranted     PermissionState = "granted"
	PermissionDenied      PermissionState = "denied"
	PermissionPrompt      PermissionState = "prompt"
	PermissionUnsupported PermissionState = "unsupported"
)

func (s PermissionState) Valid() bool {
	switch s {
	case PermissionGranted, PermissionDenied, PermissionPrompt, PermissionUnsupported:
		return true
	}
	return false
}

// PermissionMonitor reports whether location may be read and notifies on changes.
type PermissionMonitor interface {
	Query(ctx context.Context) (PermissionState, error)
	// Watch registers fn for every later change and returns a func that removes it.
	Watch(fn func(PermissionState)) (cancel func())
}
