package observability

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCorrelationID(t *testing.T) {
	pattern := regexp.MustCompile(`^req-[0-9a-f]{16}$`)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewCorrelationID()
		assert.Regexp(t, pattern, id)
		assert.False(t, seen[id], "correlation ids must be unique")
		seen[id] = true
	}
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetCorrelationID(ctx))

	ctx = WithCorrelationID(ctx, "req-0123456789abcdef")
	assert.Equal(t, "req-0123456789abcdef", GetCorrelationID(ctx))
}

func TestEnsureCorrelationID(t *testing.T) {
	t.Run("generates when absent", func(t *testing.T) {
		ctx, id := EnsureCorrelationID(context.Background())
		require.NotEmpty(t, id)
		assert.Equal(t, id, GetCorrelationID(ctx))
	})

	t.Run("preserves existing", func(t *testing.T) {
		base := WithCorrelationID(context.Background(), "req-aaaaaaaaaaaaaaaa")
		ctx, id := EnsureCorrelationID(base)
		assert.Equal(t, "req-aaaaaaaaaaaaaaaa", id)
		assert.Equal(t, base, ctx)
	})
}

func TestChangedBy(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetChangedBy(ctx))

	ctx = WithChangedBy(ctx, "deploy-bot")
	assert.Equal(t, "deploy-bot", GetChangedBy(ctx))
}

func TestCtxLogger(t *testing.T) {
	base := NewNoopLogger()

	// Without a correlation id the base logger is returned unchanged
	assert.Equal(t, base, CtxLogger(context.Background(), base))

	ctx := WithCorrelationID(context.Background(), "req-bbbbbbbbbbbbbbbb")
	assert.NotNil(t, CtxLogger(ctx, NewStandardLogger("test")))
}
