package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromContext(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core).With(zap.String("request_id", "r-1"))

	ctx := WithLogger(context.Background(), logger)
	FromContext(ctx).Info("hello")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "r-1", entries[0].ContextMap()["request_id"])
	}
}

func TestFromContext_Fallback(t *testing.T) {
	assert.Same(t, zap.L(), FromContext(context.Background()))
	assert.Equal(t, context.Background(), WithLogger(context.Background(), nil))
}
