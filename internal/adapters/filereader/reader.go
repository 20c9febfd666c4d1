// Package filereader reads tag values from plain text files, one file per tag.
// It backs bench setups where no field device is attached.
package filereader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ghalamif/AegisSpark/internal/domain"
	"github.com/ghalamif/AegisSpark/internal/ports"
)

type Config struct {
	Dir string `yaml:"dir"`
	// Prefix is stripped from Tag.Source before it is resolved under Dir.
	Prefix string `yaml:"prefix"`
}

func (c *Config) ApplyDefaults() {
	if c.Dir == "" {
		c.Dir = "test_files"
	}
	if c.Prefix == "" {
		c.Prefix = "Tags/"
	}
}

func (c *Config) Validate() error {
	info, err := os.Stat(c.Dir)
	if err != nil {
		return fmt.Errorf("dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("dir %s is not a directory", c.Dir)
	}
	return nil
}

type Reader struct {
	cfg Config
	now func() time.Time
}

func New(cfg Config) (*Reader, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Reader{cfg: cfg, now: time.Now}, nil
}

func (r *Reader) Read(ctx context.Context, tag domain.Tag) (domain.Reading, error) {
	fail := func(err error) (domain.Reading, error) {
		return domain.Reading{}, &domain.DeviceReadError{TagID: tag.ID, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return fail(domain.ErrReadTimeout)
	}

	path, err := r.path(tag)
	if err != nil {
		return fail(err)
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fail(fmt.Errorf("%w: %s", domain.ErrDeviceUnavailable, path))
	}
	if err != nil {
		return fail(err)
	}
	v, err := domain.ParseValue(tag.Type, string(raw))
	if err != nil {
		return fail(err)
	}
	return domain.Reading{Value: v, Timestamp: r.now()}, nil
}

func (r *Reader) Close() error { return nil }

func (r *Reader) path(tag domain.Tag) (string, error) {
	name := tag.Source
	if name == "" {
		name = tag.ID
	}
	name = strings.TrimPrefix(name, r.cfg.Prefix)
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("source %q escapes %s", name, r.cfg.Dir)
	}
	return filepath.Join(r.cfg.Dir, name), nil
}

var _ ports.DeviceReader = (*Reader)(nil)
