package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TLS modes accepted in configuration.
const (
	TLSNone     = "none"
	TLSInsecure = "tls_insecure"
	TLSWithCA   = "tls_with_ca"
	TLSWithCert = "tls_with_cert"
)

type TLSConfig struct {
	Mode       string `yaml:"mode"`
	CAFile     string `yaml:"ca_file"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	ServerName string `yaml:"server_name"`
}

// Config describes the broker connection. Broker may be a full URL
// ("ssl://broker:8883") or a bare host combined with Port and Protocol.
// Failover lists further broker URLs tried in turn on a Next Server command.
type Config struct {
	Broker         string        `yaml:"broker"`
	Failover       []string      `yaml:"failover"`
	Port           int           `yaml:"port"`
	Protocol       string        `yaml:"protocol"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	CleanSession   *bool         `yaml:"clean_session"`
	TLS            TLSConfig     `yaml:"tls"`
}

func (c *Config) ApplyDefaults() {
	if c.Protocol == "" {
		c.Protocol = "tcp"
	}
	if c.TLS.Mode == "" {
		c.TLS.Mode = TLSNone
	}
	if c.Port == 0 {
		c.Port = 1883
		if c.TLS.Mode != TLSNone {
			c.Port = 8883
		}
	}
	if c.ClientID == "" {
		c.ClientID = "aegis-spark-" + uuid.NewString()[:8]
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 60 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.CleanSession == nil {
		clean := true
		c.CleanSession = &clean
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Broker) == "" {
		return errors.New("broker is required")
	}
	switch c.Protocol {
	case "tcp", "ssl", "tls", "ws", "wss", "mqtt", "mqtts":
	default:
		return fmt.Errorf("unsupported protocol %q", c.Protocol)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	for _, u := range c.Failover {
		if !strings.Contains(u, "://") {
			return fmt.Errorf("failover broker %q must be a full URL", u)
		}
	}
	switch c.TLS.Mode {
	case TLSNone, TLSInsecure:
	case TLSWithCA:
		if c.TLS.CAFile == "" {
			return fmt.Errorf("tls mode %s requires ca_file", c.TLS.Mode)
		}
	case TLSWithCert:
		if c.TLS.CAFile == "" || c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls mode %s requires ca_file, cert_file and key_file", c.TLS.Mode)
		}
	default:
		return fmt.Errorf("unsupported tls mode %q", c.TLS.Mode)
	}
	return nil
}

// BrokerURL returns the URL handed to the client library.
func (c *Config) BrokerURL() string {
	if strings.Contains(c.Broker, "://") {
		return c.Broker
	}
	scheme := c.Protocol
	if c.TLS.Mode != TLSNone && scheme == "tcp" {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Broker, c.Port)
}

// Servers returns the primary broker URL followed by the failover list.
func (c *Config) Servers() []string {
	return append([]string{c.BrokerURL()}, c.Failover...)
}

// BuildTLS returns nil for mode none.
func BuildTLS(c TLSConfig) (*tls.Config, error) {
	switch c.Mode {
	case "", TLSNone:
		return nil, nil
	case TLSInsecure:
		return &tls.Config{InsecureSkipVerify: true, ServerName: c.ServerName, MinVersion: tls.VersionTLS12}, nil
	}

	pem, err := os.ReadFile(c.CAFile)
	if err != nil {
		return nil, fmt.Errorf("read ca file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("ca file %s holds no certificates", c.CAFile)
	}
	cfg := &tls.Config{RootCAs: pool, ServerName: c.ServerName, MinVersion: tls.VersionTLS12}

	switch c.Mode {
	case TLSWithCA:
		return cfg, nil
	case TLSWithCert:
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
		return cfg, nil
	default:
		return nil, fmt.Errorf("unsupported tls mode %q", c.Mode)
	}
}
