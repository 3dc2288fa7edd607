package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	ctx := context.Background()
	for name, get := range map[string]func(context.Context) (string, bool){
		"request": RequestID, "trace": TraceID, "principal": Principal,
	} {
		_, ok := get(ctx)
		assert.False(t, ok, name)
	}

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithPrincipal(ctx, "apikey:0")

	v, ok := RequestID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-1", v)
	v, _ = TraceID(ctx)
	assert.Equal(t, "trace-1", v)
	v, _ = Principal(ctx)
	assert.Equal(t, "apikey:0", v)

	_, ok = RequestID(WithRequestID(context.Background(), ""))
	assert.False(t, ok, "empty value counts as unset")
}

func TestKeysDoNotCollideWithPlainStrings(t *testing.T) {
	ctx := context.WithValue(context.Background(), "request_id", "spoofed") //nolint:staticcheck
	_, ok := RequestID(ctx)
	assert.False(t, ok)
}
