package tracker

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupported      = errors.New("geolocation is not supported on this device")
	ErrPermissionDenied = errors.New("location permission denied, enable it in the device settings")
	ErrAlreadyTracking  = errors.New("tracking already active")
)

type AcquisitionCode int

const (
	CodePermissionDenied    AcquisitionCode = 1
	CodePositionUnavailable AcquisitionCode = 2
	CodeTimeout             AcquisitionCode = 3
)

func (c AcquisitionCode) String() string {
	switch c {
	case CodePermissionDenied:
		return "permission denied"
	case CodePositionUnavailable:
		return "position unavailable"
	case CodeTimeout:
		return "timeout"
	}
	return fmt.Sprintf("code %d", int(c))
}

// AcquisitionError is a device-reported failure while a watch is active.
type AcquisitionError struct {
	Code    AcquisitionCode
	Message string
}

func (e *AcquisitionError) Error() string {
	if e.Message == "" {
		return "gps error: " + e.Code.String()
	}
	return "gps error: " + e.Message
}

// IsAcquisition reports whether err is an AcquisitionError.
func IsAcquisition(err error) bool {
	var ae *AcquisitionError
	return errors.As(err, &ae)
}
