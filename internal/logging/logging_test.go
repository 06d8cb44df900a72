package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestService_Format(t *testing.T) {
	t.Parallel()

	var text, js bytes.Buffer
	NewService(Config{Format: "text"}, &text).Logger().Info("hello", "k", "v")
	NewService(Config{Format: "json"}, &js).Logger().Info("hello", "k", "v")

	assert.Contains(t, text.String(), "msg=hello k=v")
	assert.Contains(t, js.String(), `"msg":"hello","k":"v"`)
}

func TestService_Recent(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	s := NewService(Config{Level: "debug", Buffer: 3}, &out)
	logger := s.Logger()

	logger.Debug("one")
	logger.Info("two")
	logger.Warn("three")
	logger.Error("four", "err", errors.New("boom"))

	recent := s.Recent()
	require.Len(t, recent, 3)
	assert.Equal(t, "two", recent[0].Message)
	assert.Equal(t, "three", recent[1].Message)
	assert.Equal(t, "four", recent[2].Message)
	assert.Equal(t, "ERROR", recent[2].Level)
	assert.Equal(t, "boom", recent[2].Attrs["err"])
}

func TestService_LevelFiltersBuffer(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	s := NewService(Config{Level: "warn"}, &out)
	s.Logger().Info("dropped")
	s.Logger().Warn("kept")

	recent := s.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, "kept", recent[0].Message)
	assert.NotContains(t, out.String(), "dropped")
}

func TestService_AttrsAndGroups(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	s := NewService(Config{}, &out)

	s.Logger().With("component", "kernel").WithGroup("resolve").Info("done",
		"identity", "*app.Users",
		slog.Duration("elapsed", 1500*time.Millisecond),
		slog.Group("cache", "hit", true),
	)

	recent := s.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, map[string]any{
		"component":         "kernel",
		"resolve.identity":  "*app.Users",
		"resolve.elapsed":   "1.5s",
		"resolve.cache.hit": true,
	}, recent[0].Attrs)
}

func TestService_Subscribe(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	s := NewService(Config{}, &out)

	records, cancel := s.Subscribe(4)
	s.Logger().Info("first")

	select {
	case rec := <-records:
		assert.Equal(t, "first", rec.Message)
	case <-time.After(time.Second):
		t.Fatal("record not delivered")
	}

	cancel()
	cancel()
	s.Logger().Info("second")

	_, ok := <-records
	assert.False(t, ok, "channel should be closed after cancel")
}

func TestService_SlowSubscriberDoesNotBlock(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	s := NewService(Config{}, &out)

	records, cancel := s.Subscribe(1)
	defer cancel()

	for range 5 {
		s.Logger().Info("flood")
	}

	assert.Len(t, records, 1)
	assert.Len(t, s.Recent(), 5)
}
