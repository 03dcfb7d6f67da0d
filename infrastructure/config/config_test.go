package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learngraph/application/voice"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("STORE_BACKEND", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ServerAddress)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, 30*time.Second, cfg.ResponseTimeout)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("RESPONSE_TIMEOUT", "45s")
	t.Setenv("SAVE_DEBOUNCE", "750")
	t.Setenv("ICE_SERVERS", "stun:a.example.com:3478, stun:b.example.com:3478")
	t.Setenv("TENTATIVE_NODES", "yes")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.StoreBackend)
	assert.Equal(t, 45*time.Second, cfg.ResponseTimeout)
	assert.Equal(t, 750*time.Millisecond, cfg.SaveDebounceDelay)
	assert.Equal(t, []string{"stun:a.example.com:3478", "stun:b.example.com:3478"}, cfg.ICEServers)
	assert.True(t, cfg.TentativeNodes)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "unknown backend", mutate: func(c *Config) { c.StoreBackend = "postgres" }, wantErr: "STORE_BACKEND"},
		{name: "production needs secret", mutate: func(c *Config) {
			c.Environment = "production"
			c.StoreBackend = "dynamodb"
			c.AgentAPIKey = "k"
		}, wantErr: "JWT_SECRET"},
		{name: "production rejects memory", mutate: func(c *Config) {
			c.Environment = "production"
			c.JWTSecret = "s"
			c.AgentAPIKey = "k"
		}, wantErr: "memory store"},
		{name: "non-positive timeout", mutate: func(c *Config) { c.ResponseTimeout = 0 }, wantErr: "RESPONSE_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Environment:     "development",
				StoreBackend:    "memory",
				DynamoDBTable:   "learngraph",
				ResponseTimeout: time.Second,
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoadTuning(t *testing.T) {
	dir := t.TempDir()

	t.Run("partial file keeps defaults", func(t *testing.T) {
		path := filepath.Join(dir, "partial.json")
		writeFile(t, path, `{"amplitudeThreshold": 0.05}`)

		got, err := LoadTuning(path)
		require.NoError(t, err)
		assert.Equal(t, 0.05, got.AmplitudeThreshold)
		assert.Equal(t, voice.DefaultCaptureTuning().FlushInterval, got.FlushInterval)
		assert.Equal(t, voice.DefaultCaptureTuning().SilenceFrames, got.SilenceFrames)
	})

	t.Run("out of range", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		writeFile(t, path, `{"silenceFrames": 0}`)

		_, err := LoadTuning(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "silenceFrames")
	})

	t.Run("malformed", func(t *testing.T) {
		path := filepath.Join(dir, "broken.json")
		writeFile(t, path, `{`)
		_, err := LoadTuning(path)
		assert.Error(t, err)
	})
}

func TestTuningWatcher_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.json")
	writeFile(t, path, `{"amplitudeThreshold": 0.02, "flushIntervalMs": 200, "silenceFrames": 5}`)

	w, err := NewTuningWatcher(path, 20*time.Millisecond, nil)
	require.NoError(t, err)
	defer w.Stop()

	var mu sync.Mutex
	var applied []voice.CaptureTuning
	w.OnChange(func(tu voice.CaptureTuning) {
		mu.Lock()
		defer mu.Unlock()
		applied = append(applied, tu)
	})
	w.Start()
	assert.Equal(t, 0.02, w.Current().AmplitudeThreshold)

	writeFile(t, path, `{"amplitudeThreshold": 0.04, "flushIntervalMs": 300, "silenceFrames": 8}`)

	require.Eventually(t, func() bool {
		return w.Current().AmplitudeThreshold == 0.04
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 300*time.Millisecond, w.Current().FlushInterval)

	mu.Lock()
	require.NotEmpty(t, applied)
	assert.Equal(t, 8, applied[len(applied)-1].SilenceFrames)
	mu.Unlock()
}

func TestTuningWatcher_KeepsCurrentOnInvalidEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.json")
	writeFile(t, path, `{"amplitudeThreshold": 0.02}`)

	w, err := NewTuningWatcher(path, 10*time.Millisecond, nil)
	require.NoError(t, err)
	w.Start()

	writeFile(t, path, `{"amplitudeThreshold": 7}`)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 0.02, w.Current().AmplitudeThreshold)

	w.Stop()
	w.Stop()
}

func TestNewTuningWatcher_MissingFile(t *testing.T) {
	_, err := NewTuningWatcher(filepath.Join(t.TempDir(), "absent.json"), 0, nil)
	assert.Error(t, err)
}

func TestLoadAgentProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coach.yaml")
	writeFile(t, path, `
name: piano-coach
voice: alloy
instructions: |
  Help the learner plan piano practice.
tentative_nodes: true
response_timeout: 20s
capture:
  flush_interval: 300ms
`)

	p, err := LoadAgentProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "piano-coach", p.Name)
	assert.Equal(t, "alloy", p.Voice)
	assert.Equal(t, "Help the learner plan piano practice.", p.Instructions)
	assert.True(t, p.TentativeNodes)
	assert.Equal(t, 20*time.Second, p.ResponseTimeout)

	tu := p.Tuning()
	assert.Equal(t, 300*time.Millisecond, tu.FlushInterval)
	assert.Equal(t, voice.DefaultCaptureTuning().AmplitudeThreshold, tu.AmplitudeThreshold)
}

func TestLoadAgentProfile_Invalid(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"empty instructions": "instructions: '   '\n",
		"bad capture":        "capture:\n  silence_frames: -1\n",
		"not yaml":           "capture: [1, 2\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			writeFile(t, path, body)
			_, err := LoadAgentProfile(path)
			assert.Error(t, err)
		})
	}
}

func TestAgentProfile_ApplyEnv(t *testing.T) {
	t.Setenv("AGENT_VOICE", "sage")
	t.Setenv("RESPONSE_TIMEOUT", "")

	p := DefaultAgentProfile().ApplyEnv(&Config{AgentModel: "voice-model", AgentVoice: "sage", ResponseTimeout: time.Minute})
	assert.Equal(t, "voice-model", p.Model)
	assert.Equal(t, "sage", p.Voice)
	assert.Equal(t, voice.DefaultResponseTimeout, p.ResponseTimeout)
}
