package logging

import (
	"context"
	"testing"

	"options_ledger/pkg/telemetry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogger_OTelBridge(t *testing.T) {
	tel, err := telemetry.Setup("test-logger")
	require.NoError(t, err)
	defer func() {
		_ = tel.Shutdown(context.Background())
	}()

	logger, err := NewZapLogger("DEBUG")
	require.NoError(t, err)

	logger.Info("bridged record", "key", "value")
	logger.Debug("debug record", "status", "testing")
	_ = logger.Sync()
}

func TestZapLogger_Fields(t *testing.T) {
	obsCore, logs := observer.New(zap.DebugLevel)
	logger := NewFromZap(zap.New(obsCore))

	child := logger.WithField("component", "engine").WithFields(map[string]interface{}{"option_id": uint64(3)})
	child.Info("option bought", "buyer", "bob", "dangling")

	entries := logs.All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "engine", ctx["component"])
	assert.Equal(t, uint64(3), ctx["option_id"])
	assert.Equal(t, "bob", ctx["buyer"])
	_, hasDangling := ctx["dangling"]
	assert.False(t, hasDangling)
}

func TestNew_RejectsUnknownFormat(t *testing.T) {
	_, err := New(Options{Level: "INFO", Format: "xml"})
	assert.Error(t, err)

	l, err := New(Options{Level: "warn", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("error")
	require.NoError(t, err)
	assert.Equal(t, ErrorLevel, lvl)

	lvl, err = ParseLevel("loud")
	assert.Error(t, err)
	assert.Equal(t, InfoLevel, lvl)
}
