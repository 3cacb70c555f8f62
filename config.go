package spear

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	// MaxInflightRequests is the hard cap on concurrently-executing inbound
	// Custom requests (spec.md §3, §5); ToolInvoke requests are not counted.
	MaxInflightRequests = 128
	// SendQueueCapacity is the bounded FIFO depth of the outbound frame
	// queue (spec.md §4.1, §5).
	SendQueueCapacity = 512
	// SysIOStreamID is the reserved stream id denoting the implicit
	// session stream; it is never allocated by CreateStream.
	SysIOStreamID uint32 = 0
)

// Config holds the constructor knobs for a Runtime. Zero value resolves
// ServiceAddr/Secret from the environment when Start is called, and
// defaults MaxInflight/SendQueueSize/Logger per the constants above.
type Config struct {
	ServiceAddr   string
	Secret        uint64
	MaxInflight   int
	SendQueueSize int
	Logger        *zerolog.Logger
}

// Option configures a Config.
type Option func(*Config)

// WithServiceAddr overrides the SERVICE_ADDR environment variable.
func WithServiceAddr(addr string) Option {
	return func(c *Config) { c.ServiceAddr = addr }
}

// WithSecret overrides the SECRET environment variable.
func WithSecret(secret uint64) Option {
	return func(c *Config) { c.Secret = secret }
}

// WithMaxInflight overrides MaxInflightRequests, mainly for tests that want
// to exercise the cap without spawning 128 goroutines.
func WithMaxInflight(n int) Option {
	return func(c *Config) { c.MaxInflight = n }
}

// WithSendQueueSize overrides SendQueueCapacity.
func WithSendQueueSize(n int) Option {
	return func(c *Config) { c.SendQueueSize = n }
}

// WithLogger sets the logger used for lifecycle and error events. Defaults
// to a console writer on stderr at info level.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) { c.Logger = &l }
}

func newConfig(opts ...Option) *Config {
	cfg := &Config{
		MaxInflight:   MaxInflightRequests,
		SendQueueSize: SendQueueCapacity,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: false}).
			Level(zerolog.InfoLevel).
			With().Timestamp().Logger()
		cfg.Logger = &l
	}
	return cfg
}

// resolveFromEnv fills ServiceAddr/Secret from SERVICE_ADDR/SECRET when
// they were not set explicitly, per spec.md §6.
func (c *Config) resolveFromEnv() error {
	if c.ServiceAddr == "" {
		addr, ok := os.LookupEnv("SERVICE_ADDR")
		if !ok {
			return errors.New("spear: SERVICE_ADDR is not set")
		}
		c.ServiceAddr = addr
	}
	if c.Secret == 0 {
		raw, ok := os.LookupEnv("SECRET")
		if !ok {
			return errors.New("spear: SECRET is not set")
		}
		secret, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("spear: invalid SECRET %q", raw))
		}
		c.Secret = secret
	}
	return nil
}
