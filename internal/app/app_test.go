package app

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/payment-orchestrator/internal/config"
)

func TestNewProcessorParsesMethods(t *testing.T) {
	p, err := newProcessor(config.ProcessorConfig{ManualCapture: true, ActionMethods: []string{"bank_transfer", "crypto"}})
	require.NoError(t, err)
	assert.NotNil(t, p)

	_, err = newProcessor(config.ProcessorConfig{ActionMethods: []string{"cheque"}})
	assert.ErrorContains(t, err, "processor action methods")
}

func TestDefaultRelayID(t *testing.T) {
	id := defaultRelayID("payment-service")
	assert.True(t, strings.HasPrefix(id, "payment-service-relay-"))
	assert.Greater(t, len(id), len("payment-service-relay-"))
}

func TestStreamClose(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	s := NewStream(cfg, discard())
	assert.NoError(t, s.Close())
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }
