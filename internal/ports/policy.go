package ports

import "time"

type Policy struct {
	SampleInterval time.Duration `yaml:"sample_interval"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	SendTimeout    time.Duration `yaml:"send_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	GaugeInterval  time.Duration `yaml:"gauge_interval"`

	// Zero disables the respective limit.
	MaxBufferBytes    int64 `yaml:"max_buffer_bytes"`
	MaxBufferMessages int   `yaml:"max_buffer_messages"`

	Reconnect      Backoff `yaml:"reconnect"`
	StorageRetry   Backoff `yaml:"storage_retry"`
	StorageRetries int     `yaml:"storage_retries"`
}

// Backoff describes a capped, jittered exponential delay.
type Backoff struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Jitter       float64       `yaml:"jitter"`
}
