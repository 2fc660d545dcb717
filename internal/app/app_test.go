package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceguard-service/internal/config"
	"voiceguard-service/internal/service/call"
	"voiceguard-service/internal/service/risk"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Service:  config.ServiceConfig{Principal: "svc-test"},
		Call:     config.CallConfig{TickInterval: time.Hour, QueueSize: 64},
		Risk:     risk.DefaultConfig(),
		Store:    config.StoreConfig{Path: filepath.Join(t.TempDir(), "vg.db")},
		Analysis: config.AnalysisConfig{Provider: "mock", EnrichEvery: 1, Timeout: time.Second},
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Analysis.Provider = "carrier-pigeon"

	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestNew_InvalidRiskConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Risk.Lexicon = nil

	_, err := New(cfg)
	assert.ErrorIs(t, err, risk.ErrEmptyLexicon)
}

func TestNew_GatewayNeedsURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.Analysis.Provider = "gateway"

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestApplication_CallIsRecordedOnShutdown(t *testing.T) {
	a, err := New(testConfig(t))
	require.NoError(t, err)
	require.NotNil(t, a.Enricher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	require.NoError(t, a.Ready(ctx))

	snap, err := a.Machine.Start(ctx, call.Selection{
		Transcript: "Speaker1: Your bank account is blocked. Transfer the money now. Speaker2: Okay.",
	})
	require.NoError(t, err)
	require.True(t, a.Machine.Tick())

	// Shutdown hangs up the running call and flushes it to history. The
	// store is closed afterwards, so reopen it to read the record.
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	require.NoError(t, a.Shutdown(shutdownCtx))
	require.NoError(t, a.Shutdown(shutdownCtx))

	b, err := New(a.Cfg)
	require.NoError(t, err)
	defer b.Shutdown(context.Background())

	rec, err := b.Store.GetCall(context.Background(), snap.CallID)
	require.NoError(t, err)
	assert.Equal(t, string(call.ReasonShutdown), rec.EndReason)
	assert.Equal(t, 1, rec.Delivered)
	assert.Positive(t, rec.RiskScore)
}

func TestApplication_ShutdownWithoutStart(t *testing.T) {
	a, err := New(testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, a.Shutdown(ctx))
}
