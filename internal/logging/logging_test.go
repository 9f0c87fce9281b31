package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New("debug", "json", &buf)
		require.NoError(t, err)
		logger.Debug("hello", "k", "v")

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "hello", line["msg"])
		assert.Equal(t, "v", line["k"])
	})

	t.Run("level filters", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New("warn", "text", &buf)
		require.NoError(t, err)
		logger.Info("dropped")
		assert.Zero(t, buf.Len())
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := New("loud", "json", &bytes.Buffer{})
		assert.Error(t, err)
		_, err = New("info", "xml", &bytes.Buffer{})
		assert.Error(t, err)
	})
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	ctx := ContextWithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
	assert.Nil(t, FromContext(context.Background()))
	assert.Equal(t, context.Background(), ContextWithLogger(context.Background(), nil))
}
