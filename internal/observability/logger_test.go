// File: internal/observability/logger_test.go
package observability

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/riftlab/automaton/internal/config"
)

// syncBuffer adapts strings.Builder to zapcore.WriteSyncer.
type syncBuffer struct {
	strings.Builder
}

func (b *syncBuffer) Sync() error { return nil }

func TestInitializeJSONFormat(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	buf := &syncBuffer{}
	Initialize(config.LoggerConfig{
		Level:       "debug",
		Format:      "json",
		ServiceName: "automaton-test",
	}, zapcore.Lock(buf))

	GetLogger().Info("hello")
	require.NotEmpty(t, buf.String())

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.Split(buf.String(), "\n")[0]), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "automaton-test", entry["logger"])
}

func TestInitializeOnlyOnce(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	first := &syncBuffer{}
	second := &syncBuffer{}
	Initialize(config.LoggerConfig{Level: "info", Format: "json"}, zapcore.Lock(first))
	Initialize(config.LoggerConfig{Level: "info", Format: "json"}, zapcore.Lock(second))

	GetLogger().Info("routed to first")
	assert.NotEmpty(t, first.String())
	assert.Empty(t, second.String())
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	buf := &syncBuffer{}
	Initialize(config.LoggerConfig{Level: "chatty", Format: "json"}, zapcore.Lock(buf))

	GetLogger().Debug("suppressed")
	GetLogger().Info("visible")
	assert.NotContains(t, buf.String(), "suppressed")
	assert.Contains(t, buf.String(), "visible")
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)
	require.NotNil(t, GetLogger())
}
