package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jgiquality/qualer-harvester/internal/config"
)

// syncBuffer adapts bytes.Buffer to zapcore.WriteSyncer.
type syncBuffer struct {
	bytes.Buffer
}

func (b *syncBuffer) Sync() error { return nil }

func TestInitializeJSONFormat(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	buf := &syncBuffer{}
	Initialize(config.LoggerConfig{
		Level:       "debug",
		Format:      "json",
		ServiceName: "harvester-test",
	}, buf)

	GetLogger().Info("hello", zap.String("endpoint", "Clients_Read"))
	require.NotZero(t, buf.Len())

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "Clients_Read", entry["endpoint"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "harvester-test", entry["logger"])
}

func TestInitializeRespectsLevel(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	buf := &syncBuffer{}
	Initialize(config.LoggerConfig{
		Level:       "warn",
		Format:      "json",
		ServiceName: "harvester-test",
	}, buf)

	GetLogger().Info("below threshold")
	assert.Zero(t, buf.Len(), "info entries must be dropped at warn level")

	GetLogger().Warn("at threshold")
	assert.NotZero(t, buf.Len())
}

func TestInitializeOnlyOnce(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	first := &syncBuffer{}
	second := &syncBuffer{}
	Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "a"}, first)
	Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "b"}, second)

	GetLogger().Info("routed")
	assert.NotZero(t, first.Len(), "first initialization wins")
	assert.Zero(t, second.Len())
}

func TestGetLoggerFallback(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logger := GetLogger()
	require.NotNil(t, logger)
	// The fallback must be usable without panicking.
	logger.Debug("fallback logger smoke test")
}

func TestColorizedLevelEncoder(t *testing.T) {
	enc := newColorizedLevelEncoder(config.ColorConfig{Info: "green", Error: "red"})

	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeLevel = enc
	buf := &syncBuffer{}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), buf, zap.DebugLevel)
	zap.New(core).Info("colorized")

	assert.Contains(t, buf.String(), colorGreen)
	assert.Contains(t, buf.String(), colorReset)
}
