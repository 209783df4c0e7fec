package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCuratorConfig_Defaults(t *testing.T) {
	cfg, err := LoadCuratorConfig(t.TempDir(), nil)
	require.NoError(t, err)

	assert.Equal(t, "data", cfg.Storage.DataPath)
	assert.Equal(t, 10_000, cfg.Shards.Capacity)
	assert.Equal(t, 10, cfg.Uploader.RetryLimit)
	assert.Equal(t, 10*time.Minute, cfg.Uploader.RateLimitWait)
	assert.Equal(t, int64(178_956_970), cfg.Validation.MaxPixels)
	assert.Equal(t, "sha256", cfg.Validation.HashAlgorithm)
	assert.Equal(t, 15*time.Minute, cfg.Cache.TTL)
}

func TestLoadCuratorConfig_EnvAndFlags(t *testing.T) {
	t.Setenv("UPLOADER_RETRY_LIMIT", "3")
	t.Setenv("CACHE_TTL", "1m")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("token", "", "")
	flags.Int("shard-limit", 0, "")
	require.NoError(t, flags.Parse([]string{"--token", "secret", "--shard-limit", "50"}))

	cfg, err := LoadCuratorConfig(t.TempDir(), flags)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Uploader.RetryLimit)
	assert.Equal(t, time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "secret", cfg.Credentials.Token)
	assert.Equal(t, 50, cfg.Shards.Capacity)
}

func TestLoadCuratorConfig_File(t *testing.T) {
	dir := t.TempDir()
	content := []byte("storage:\n  backend: local\n  local_root: /tmp/curator\nvotes:\n  min_vote_count: 5\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "curator.yaml"), content, 0o644))

	cfg, err := LoadCuratorConfig(dir, nil)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/curator", cfg.Storage.LocalRoot)
	assert.Equal(t, 5, cfg.Votes.MinVoteCount)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name      string
		mutate    func(*CuratorAppConfig)
		expectErr bool
	}{
		{name: "defaults", mutate: func(*CuratorAppConfig) {}},
		{name: "unknown hash", mutate: func(c *CuratorAppConfig) { c.Validation.HashAlgorithm = "md5" }, expectErr: true},
		{name: "zero capacity", mutate: func(c *CuratorAppConfig) { c.Shards.Capacity = 0 }, expectErr: true},
		{name: "redis without addr", mutate: func(c *CuratorAppConfig) { c.Cache.Backend = "redis" }, expectErr: true},
		{name: "oss without bucket", mutate: func(c *CuratorAppConfig) { c.Storage.Backend = "oss" }, expectErr: true},
		{name: "no models", mutate: func(c *CuratorAppConfig) { c.Classify.Models = nil }, expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultCuratorAppConfig()
			tc.mutate(&cfg)
			err := Validate(&cfg)
			if tc.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
