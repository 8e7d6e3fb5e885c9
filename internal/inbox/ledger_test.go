package inbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/teammate/internal/history"
)

func TestMemoryLedger(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	ok, err := l.Succeeded(ctx, "a.xml", "d1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = l.Record(ctx, history.Entry{SourcePath: "a.xml", Digest: "d1", Outcome: history.OutcomeFailed})
	require.NoError(t, err)
	_, err = l.Record(ctx, history.Entry{SourcePath: "a.xml", Digest: "d1", Outcome: history.OutcomeFailed})
	require.NoError(t, err)
	n, err := l.Attempts(ctx, "a.xml", "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	id, err := l.Record(ctx, history.Entry{SourcePath: "a.xml", Digest: "d1", Outcome: history.OutcomeSucceeded})
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)

	n, _ = l.Attempts(ctx, "a.xml", "d1")
	assert.Equal(t, 0, n, "a success starts the next delivery from zero")

	ok, _ = l.Succeeded(ctx, "a.xml", "d1")
	assert.True(t, ok)
	ok, _ = l.Succeeded(ctx, "a.xml", "d2")
	assert.False(t, ok)
}
