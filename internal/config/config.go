// Package config reads the daemon configuration file.
package config

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"

	"github.com/fzmap/mapserver/common/log"
	"github.com/fzmap/mapserver/internal/fs"
	"github.com/fzmap/mapserver/internal/http"
	"github.com/fzmap/mapserver/internal/mapserver"
)

// DefaultListen is the address the transport binds to by default.
const DefaultListen = "127.0.0.1:8080"

// Config is the daemon configuration.
type Config struct {
	// Folder holds the database.
	Folder string `toml:"folder"`
	// Mode is "secure" or "bypass".
	Mode      string `toml:"mode"`
	Precision int64  `toml:"precision"`

	Listen string `toml:"listen"`
	// Metrics is the address of the metrics listener, disabled when empty.
	Metrics string `toml:"metrics"`

	TLSCert string `toml:"tls_cert"`
	TLSKey  string `toml:"tls_key"`
	// SelfSigned generates TLSCert and TLSKey when they do not exist.
	SelfSigned bool `toml:"tls_self_signed"`

	ProducerHeader string `toml:"producer_header"`
	KeyCacheSize   int    `toml:"key_cache_size"`

	// AccessLog is a file access logs are appended to, stdout when empty.
	AccessLog string `toml:"access_log"`
	JSONLogs  bool   `toml:"json_logs"`
	Verbose   bool   `toml:"verbose"`
}

// Default returns the configuration used for absent settings.
func Default() *Config {
	return &Config{
		Folder:         fs.DefaultDataFolder(),
		Mode:           mapserver.Secure.String(),
		Precision:      mapserver.DefaultPrecision,
		Listen:         DefaultListen,
		ProducerHeader: http.DefaultProducerHeader,
		KeyCacheSize:   mapserver.DefaultKeyCacheSize,
	}
}

// Load reads the file at path over the defaults. Unknown keys are an error.
func Load(path string) (*Config, error) {
	c := Default()
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return c, nil
}

// Validate reports every problem of c at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.Folder == "" {
		result = multierror.Append(result, fmt.Errorf("folder must be set"))
	}
	if _, err := mapserver.ParseMode(c.Mode); err != nil {
		result = multierror.Append(result, err)
	}
	if c.Precision <= 0 {
		result = multierror.Append(result, fmt.Errorf("precision must be positive, got %d", c.Precision))
	}
	if c.Listen == "" {
		result = multierror.Append(result, fmt.Errorf("listen address must be set"))
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		result = multierror.Append(result, fmt.Errorf("tls_cert and tls_key must be set together"))
	}
	if c.SelfSigned && c.TLSCert == "" {
		result = multierror.Append(result, fmt.Errorf("tls_self_signed needs tls_cert and tls_key to write to"))
	}
	if c.ProducerHeader == "" {
		result = multierror.Append(result, fmt.Errorf("producer_header must be set"))
	}
	if c.KeyCacheSize <= 0 {
		result = multierror.Append(result, fmt.Errorf("key_cache_size must be positive, got %d", c.KeyCacheSize))
	}
	return result.ErrorOrNil()
}

// TLS reports whether the transport is served over TLS.
func (c *Config) TLS() bool {
	return c.TLSCert != ""
}

// LogLevel is the level of the daemon logger.
func (c *Config) LogLevel() int {
	if c.Verbose {
		return log.DebugLevel
	}
	return log.InfoLevel
}

// ServerOptions turns c into options of the protocol core.
func (c *Config) ServerOptions(l log.Logger) ([]mapserver.ConfigOption, error) {
	mode, err := mapserver.ParseMode(c.Mode)
	if err != nil {
		return nil, err
	}
	return []mapserver.ConfigOption{
		mapserver.WithMode(mode),
		mapserver.WithPrecision(c.Precision),
		mapserver.WithKeyCacheSize(c.KeyCacheSize),
		mapserver.WithLogger(l),
	}, nil
}

// Write prints c as TOML.
func (c *Config) Write(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// WriteFile stores c at path, readable by its owner only.
func (c *Config) WriteFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if err := c.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
