package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownTag             = errors.New("unknown tag")
	ErrTypeMismatch           = errors.New("value type does not match tag type")
	ErrReadTimeout            = errors.New("device read timeout")
	ErrDeviceUnavailable      = errors.New("device unavailable")
	ErrNotConnected           = errors.New("transport not connected")
	ErrSendTimeout            = errors.New("transport send timeout")
	ErrBufferCapacityExceeded = errors.New("buffer capacity exceeded")
	ErrBufferCorrupt          = errors.New("buffer corrupt")
	ErrBufferClosed           = errors.New("buffer closed")
	ErrSessionNotEstablished  = errors.New("session not established")
	ErrRebootRequested        = errors.New("reboot requested by host application")
	ErrNextServerRequested    = errors.New("next server requested by host application")
)

// UnknownTagError is returned for tag IDs that were never registered.
type UnknownTagError struct {
	TagID string
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("unknown tag %q", e.TagID)
}

func (e *UnknownTagError) Is(target error) bool {
	return target == ErrUnknownTag
}

// DeviceReadError wraps a failed read of one tag.
type DeviceReadError struct {
	TagID string
	Err   error
}

func (e *DeviceReadError) Error() string {
	return fmt.Sprintf("read tag %q: %v", e.TagID, e.Err)
}

func (e *DeviceReadError) Unwrap() error { return e.Err }

// TransportSendError wraps a failed publish attempt.
type TransportSendError struct {
	Topic string
	Err   error
}

func (e *TransportSendError) Error() string {
	return fmt.Sprintf("send %s: %v", e.Topic, e.Err)
}

func (e *TransportSendError) Unwrap() error { return e.Err }

// StorageIOError wraps a durable-storage failure on append or ack.
type StorageIOError struct {
	Op  string
	Err error
}

func (e *StorageIOError) Error() string {
	return fmt.Sprintf("buffer %s: %v", e.Op, e.Err)
}

func (e *StorageIOError) Unwrap() error { return e.Err }

// IsStorageError reports whether err originated in the durable buffer.
func IsStorageError(err error) bool {
	var se *StorageIOError
	return errors.As(err, &se)
}
