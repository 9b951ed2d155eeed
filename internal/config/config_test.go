// Package config_test tests the configuration loading for the web2speech service.
package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/web2speech/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, tomlData string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "web2speech.toml")
	require.NoError(t, os.WriteFile(path, []byte(tomlData), 0o600))

	return path
}

func TestLoadFromFile(t *testing.T) {
	tomlData := `
[http]
port = 8080
max_upload_mb = 8

[nats]
url = "nats://127.0.0.1:4222"
jobs_bucket = "SPEECH_JOBS"
artifacts_bucket = "SPEECH_ARTIFACTS"
text_processed_subject = "text.processed"
audio_chunk_created_subject = "audio.chunk.created"

[orchestrator]
workers = 8
queue_size = 64
retry_max_attempts = 5
retry_base_delay_ms = 250
grace_period_seconds = 120

[extractor]
service_url = "http://localhost:8100"
timeout_seconds = 30

[tts]
backend = "huggingface"
default_voice = "facebook/mms-tts-eng"
timeout_seconds = 90
max_chunk_chars = 800

[[voices]]
id = "facebook/mms-tts-eng"
label = "MMS English"
backend = "huggingface"

[paths]
base_logs_dir = "/tmp/web2speech-logs"
`

	cfg, err := config.LoadFromFile(writeConfig(t, tomlData))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 8, cfg.HTTP.MaxUploadMB)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "SPEECH_JOBS", cfg.NATS.JobsBucket)
	assert.Equal(t, "SPEECH_ARTIFACTS", cfg.NATS.ArtifactsBucket)
	assert.Equal(t, 8, cfg.Orchestrator.Workers)
	assert.Equal(t, 64, cfg.Orchestrator.QueueSize)
	assert.Equal(t, 5, cfg.Orchestrator.RetryMaxAttempts)
	assert.Equal(t, "http://localhost:8100", cfg.Extractor.ServiceURL)
	assert.Equal(t, "facebook/mms-tts-eng", cfg.TTS.DefaultVoice)
	assert.Equal(t, 800, cfg.TTS.MaxChunkChars)
	require.Len(t, cfg.Voices, 1)
	assert.Equal(t, "MMS English", cfg.Voices[0].Label)
	assert.Equal(t, "/tmp/web2speech-logs", cfg.Paths.BaseLogsDir)

	// PDF ceiling defaults to the upload limit.
	assert.Equal(t, int64(8<<20), cfg.Orchestrator.MaxPDFBytes)
}

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	cfg, err := config.LoadFromFile(writeConfig(t, "[nats]\nurl = \"nats://127.0.0.1:4222\"\n"))
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.HTTP.Port)
	assert.Equal(t, 16, cfg.HTTP.MaxUploadMB)
	assert.Equal(t, 4, cfg.Orchestrator.Workers)
	assert.Equal(t, 3, cfg.Orchestrator.RetryMaxAttempts)
	assert.Equal(t, "huggingface", cfg.TTS.Backend)
	assert.Equal(t, "https://api-inference.huggingface.co/models", cfg.TTS.BaseURL)
	assert.Equal(t, "microsoft/speecht5_tts", cfg.TTS.DefaultVoice)
	assert.InEpsilon(t, 0.5, cfg.TTS.SpeedMin, 0.001)
	assert.InEpsilon(t, 2.0, cfg.TTS.SpeedMax, 0.001)
	assert.Equal(t, "WEB2SPEECH_JOBS", cfg.NATS.JobsBucket)
	assert.Equal(t, "WEB2SPEECH_AUDIO", cfg.NATS.ArtifactsBucket)
	assert.Equal(t, "WEB2SPEECH_TEXTS", cfg.NATS.TextsBucket)
	assert.Len(t, cfg.Voices, 3)
}

func TestLoadFromFileRejectsUnknownDefaultVoice(t *testing.T) {
	tomlData := `
[tts]
default_voice = "bogus/voice"

[[voices]]
id = "facebook/mms-tts-eng"
label = "MMS English"
backend = "huggingface"
`

	_, err := config.LoadFromFile(writeConfig(t, tomlData))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus/voice")
}

func TestEnvOverridesAPIKey(t *testing.T) {
	t.Setenv("HUGGINGFACE_API_KEY", "hf_test_key")
	t.Setenv("PORT", "9999")

	cfg, err := config.LoadFromFile(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "hf_test_key", cfg.TTS.APIKey)
	assert.Equal(t, 9999, cfg.HTTP.Port)
}

func TestLoadFromFileMissingFile(t *testing.T) {
	_, err := config.LoadFromFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
