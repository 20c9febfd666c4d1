package ports

import (
	"context"

	"github.com/ghalamif/AegisSpark/internal/domain"
)

// DeviceReader samples the current value of a tag from a field device.
// Failures are reported as *domain.DeviceReadError.
type DeviceReader interface {
	Read(ctx context.Context, tag domain.Tag) (domain.Reading, error)
	Close() error
}
