package logger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonerfun/flywheel/internal/logger"
)

func TestNew_LevelsAndFields(t *testing.T) {
	t.Parallel()

	for _, level := range []string{"", "debug", "info", "warn", "error", "bogus"} {
		l, err := logger.New(logger.Config{Level: level, OutputPaths: []string{"stderr"}})
		require.NoError(t, err, "level %q", level)

		child := l.With(logger.Component("retry_queue"), logger.String("task", "retry"))
		assert.NotSame(t, l, child)

		child.Debug("debug entry", logger.Int("n", 1))
		child.Warn("warn entry", logger.Error(errors.New("boom")))
	}
}

func TestFromContext_RoundTrip(t *testing.T) {
	t.Parallel()

	l, err := logger.New(logger.Config{Level: "warn", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)

	ctx := logger.WithContext(context.Background(), l)
	assert.Same(t, l, logger.FromContext(ctx))
}

func TestFromContext_Fallback(t *testing.T) {
	t.Parallel()

	a := logger.FromContext(context.Background())
	b := logger.FromContext(context.Background())

	require.NotNil(t, a)
	assert.Same(t, a, b)
	a.Info("filtered at warn level")
}

func TestNop(t *testing.T) {
	t.Parallel()

	l := logger.NewNop()
	assert.Same(t, l, l.With(logger.String("k", "v")))
	assert.NoError(t, l.Sync())
}
