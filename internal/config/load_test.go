package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) EnvLookup {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func files(m map[string]string) func(string) ([]byte, error) {
	return func(path string) ([]byte, error) {
		if data, ok := m[path]; ok {
			return []byte(data), nil
		}
		return nil, os.ErrNotExist
	}
}

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	cfg, err := Load(WithEnv(envMap(nil)), WithFileReader(files(nil)))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 30*time.Second, cfg.Browser.ActionTimeout)
	assert.Equal(t, 50, cfg.Runner.MaxInstructions)
}

func TestLoadPrecedence(t *testing.T) {
	yamlDoc := `
store:
  driver: file
  dir: /data/recordings
browser:
  action_timeout: 10s
llm:
  api_key: ${OPENAI_KEY}
runner:
  max_concurrent: 2
`
	env := envMap(map[string]string{
		"RUNTHRU_CONFIG":         "/etc/runthru.yaml",
		"OPENAI_KEY":             "from-env",
		"RUNTHRU_MAX_CONCURRENT": "8",
	})
	cfg, err := Load(
		WithEnv(env),
		WithFileReader(files(map[string]string{"/etc/runthru.yaml": yamlDoc})),
		WithOverrides(func(c *Config) { c.Server.Addr = ":9999" }),
	)
	require.NoError(t, err)

	assert.Equal(t, "file", cfg.Store.Driver)
	assert.Equal(t, "/data/recordings", cfg.Store.Dir)
	assert.Equal(t, 10*time.Second, cfg.Browser.ActionTimeout)
	assert.Equal(t, "from-env", cfg.LLM.APIKey)
	assert.Equal(t, 8, cfg.Runner.MaxConcurrent, "env beats file")
	assert.Equal(t, ":9999", cfg.Server.Addr, "overrides beat env")
}

func TestLoadForcedMissingFileFails(t *testing.T) {
	_, err := Load(WithConfigPath("/nope.yaml"), WithEnv(envMap(nil)), WithFileReader(files(nil)))
	require.Error(t, err)
}

func TestLoadRejectsBadEnvValue(t *testing.T) {
	_, err := Load(WithEnv(envMap(map[string]string{"RUNTHRU_ACTION_TIMEOUT": "soon"})), WithFileReader(files(nil)))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = "postgres"
	cfg.Lark.Enabled = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.dsn")
	assert.Contains(t, err.Error(), "lark.app_id")
}

func TestExpandHome(t *testing.T) {
	assert.Equal(t, "/home/u/x", expandHome("~/x", "/home/u"))
	assert.Equal(t, "/abs", expandHome("/abs", "/home/u"))
}
