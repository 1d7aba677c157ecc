package config

import (
	"bytes"
	"os"
	"path"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/require"

	"github.com/fzmap/mapserver/common/testlogger"
	"github.com/fzmap/mapserver/internal/mapserver"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := path.Join(t.TempDir(), "mapserver.toml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0600))
	return p
}

func TestLoad(t *testing.T) {
	p := writeConfig(t, `
folder = "/var/lib/mapserver"
mode = "bypass"
precision = 500
listen = "0.0.0.0:9000"
metrics = "9001"
`)
	c, err := Load(p)
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	require.Equal(t, "/var/lib/mapserver", c.Folder)
	require.Equal(t, int64(500), c.Precision)
	require.Equal(t, "9001", c.Metrics)
	require.Equal(t, mapserver.DefaultKeyCacheSize, c.KeyCacheSize)
	require.False(t, c.TLS())

	opts, err := c.ServerOptions(testlogger.New(t))
	require.NoError(t, err)
	cfg := mapserver.NewConfig(opts...)
	require.Equal(t, mapserver.Bypass, cfg.Mode())
	require.Equal(t, int64(500), cfg.Precision())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	p := writeConfig(t, "folder = \"/tmp\"\nprecison = 5\n")
	_, err := Load(p)
	require.ErrorContains(t, err, "precison")

	_, err = Load(path.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errs   int
	}{
		{"defaults", func(*Config) {}, 0},
		{"bad mode", func(c *Config) { c.Mode = "turbo" }, 1},
		{"half tls", func(c *Config) { c.TLSCert = "cert.pem" }, 1},
		{"self signed without paths", func(c *Config) { c.SelfSigned = true }, 1},
		{"everything wrong", func(c *Config) {
			c.Folder = ""
			c.Precision = 0
			c.Listen = ""
			c.KeyCacheSize = -1
			c.ProducerHeader = ""
		}, 5},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := Default()
			test.modify(c)
			err := c.Validate()
			if test.errs == 0 {
				require.NoError(t, err)
				return
			}
			var merr *multierror.Error
			require.ErrorAs(t, err, &merr)
			require.Len(t, merr.Errors, test.errs)
		})
	}
}

func TestWriteRoundTrip(t *testing.T) {
	c := Default()
	c.Mode = "bypass"
	c.TLSCert, c.TLSKey = "cert.pem", "key.pem"

	var buf bytes.Buffer
	require.NoError(t, c.Write(&buf))
	require.Contains(t, buf.String(), `tls_cert = "cert.pem"`)

	p := path.Join(t.TempDir(), "out.toml")
	require.NoError(t, c.WriteFile(p))
	loaded, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, c, loaded)
}
