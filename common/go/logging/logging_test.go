package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

func TestConfigYAML(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, yaml.Unmarshal([]byte("level: debug\nformat: json\n"), &cfg))

	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.NoError(t, cfg.Validate())

	cfg.Format = "xml"
	assert.Error(t, cfg.Validate())
}

func TestInitJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	cfg := Config{Level: zapcore.WarnLevel, Format: "json"}

	log, level, err := initWithOutput(&cfg, path, false)
	require.NoError(t, err)

	log.Infow("dropped")
	log.Warnw("moved slots", "low", 59, "high", 63)

	level.SetLevel(zapcore.InfoLevel)
	log.Infow("kept")
	require.NoError(t, log.Sync())

	buf, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(buf)), "\n")
	require.Len(t, lines, 2)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	assert.Equal(t, "warn", record["level"])
	assert.Equal(t, "moved slots", record["msg"])
	assert.Equal(t, 59.0, record["low"])
}

func TestInitRejectsUnknownFormat(t *testing.T) {
	_, _, err := Init(&Config{Format: "logfmt"})
	assert.Error(t, err)
}
