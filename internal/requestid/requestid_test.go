package requestid

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	ctx, id := New(context.Background())
	assert.NotEmpty(t, id)
	assert.Equal(t, id, FromContext(ctx))
}

func TestFromContext_Missing(t *testing.T) {
	id := FromContext(context.Background())
	assert.NotEmpty(t, id) // generates new UUID
}

func TestWithRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "test-123")
	assert.Equal(t, "test-123", FromContext(ctx))
}

func TestLookup(t *testing.T) {
	_, ok := Lookup(context.Background())
	assert.False(t, ok)

	id, ok := Lookup(WithRequestID(context.Background(), "abc"))
	assert.True(t, ok)
	assert.Equal(t, "abc", id)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	plain := Logger(context.Background(), base)
	plain.Info().Msg("plain")
	assert.NotContains(t, buf.String(), "cycle_id")

	buf.Reset()
	tagged := Logger(WithRequestID(context.Background(), "cyc-1"), base)
	tagged.Info().Msg("tagged")
	assert.Contains(t, buf.String(), `"cycle_id":"cyc-1"`)
}
