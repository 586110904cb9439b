package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRedactEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"marie.dupont@orange.fr", "ma***@orange.fr"},
		{"jo@free.fr", "***@free.fr"},
		{"  paul@abc-bedarieux.fr ", "pa***@abc-bedarieux.fr"},
		{"not-an-email", "***@***"},
		{"a@b@c.fr", "***@***"},
		{"@c.fr", "***@***"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, RedactEmail(tt.in))
		})
	}
}

func TestLogRedactsPII(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Replace(zap.New(core))
	SetRedactPII(true)
	t.Cleanup(func() { Replace(zap.NewNop()) })

	Info("subscribed", "email", "marie.dupont@orange.fr", "note", "contact paul@free.fr", "error", errors.New("rejected marie.dupont@orange.fr"))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "ma***@orange.fr", fields["email"])
	assert.Equal(t, "contact pa***@free.fr", fields["note"])
	assert.Equal(t, "rejected ma***@orange.fr", fields["error"])
}

func TestLogWithoutRedaction(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Replace(zap.New(core))
	SetRedactPII(false)
	t.Cleanup(func() {
		SetRedactPII(true)
		Replace(zap.NewNop())
	})

	Warn("raw", "email", "marie.dupont@orange.fr", "count", 3)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "marie.dupont@orange.fr", entries[0].ContextMap()["email"])
	assert.Equal(t, "3", entries[0].ContextMap()["count"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("WARNING"))
	assert.Equal(t, ERROR, ParseLevel("error"))
	assert.Equal(t, INFO, ParseLevel(""))
}
