package mapserver

import (
	"crypto/rand"
	"io"

	"github.com/jonboulle/clockwork"

	"github.com/fzmap/mapserver/common/log"
)

// DefaultPrecision bounds the random offsets: they are drawn in
// [-DefaultPrecision, DefaultPrecision].
const DefaultPrecision = 3000

// DefaultKeyCacheSize is the number of parsed map keys kept in memory.
const DefaultKeyCacheSize = 256

// Config holds the settings of a Server.
type Config struct {
	mode         Mode
	precision    int64
	log          log.Logger
	clock        clockwork.Clock
	random       io.Reader
	keyCacheSize int
}

// ConfigOption sets one setting of the Config.
type ConfigOption func(*Config)

// NewConfig returns the default configuration with opts applied.
func NewConfig(opts ...ConfigOption) *Config {
	c := &Config{
		mode:         Secure,
		precision:    DefaultPrecision,
		clock:        clockwork.NewRealClock(),
		random:       rand.Reader,
		keyCacheSize: DefaultKeyCacheSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = log.DefaultLogger()
	}
	return c
}

// WithMode selects Secure or Bypass.
func WithMode(m Mode) ConfigOption {
	return func(c *Config) {
		c.mode = m
	}
}

// WithPrecision sets the bound of the random offsets.
func WithPrecision(p int64) ConfigOption {
	return func(c *Config) {
		c.precision = p
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) ConfigOption {
	return func(c *Config) {
		c.log = l
	}
}

// WithClock sets the clock used to timestamp billing records.
func WithClock(clock clockwork.Clock) ConfigOption {
	return func(c *Config) {
		c.clock = clock
	}
}

// WithRandomness sets the source offsets are drawn from.
func WithRandomness(r io.Reader) ConfigOption {
	return func(c *Config) {
		c.random = r
	}
}

// WithKeyCacheSize sets how many map keys are kept parsed.
func WithKeyCacheSize(size int) ConfigOption {
	return func(c *Config) {
		c.keyCacheSize = size
	}
}

// Mode returns the configured mode.
func (c *Config) Mode() Mode {
	return c.mode
}

// Precision returns the offset bound.
func (c *Config) Precision() int64 {
	return c.precision
}
