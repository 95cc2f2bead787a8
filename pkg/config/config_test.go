package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCfg struct {
	Name string `mapstructure:"name"`
	HTTP struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"http"`
	Matching struct {
		Window time.Duration `mapstructure:"window"`
	} `mapstructure:"matching"`
}

func TestLoadFile_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recon-service.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: recon-service
http:
  addr: ":8080"
matching:
  window: 30m
`), 0o644))

	t.Setenv("RECON_SERVICE_HTTP_ADDR", ":9999")

	var cfg testCfg
	require.NoError(t, LoadFile("recon-service", path, &cfg))
	assert.Equal(t, "recon-service", cfg.Name)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, 30*time.Minute, cfg.Matching.Window)
}

func TestLoadFile_Missing(t *testing.T) {
	var cfg testCfg
	assert.Error(t, LoadFile("recon-service", filepath.Join(t.TempDir(), "nope.yaml"), &cfg))
}
