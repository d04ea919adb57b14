package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/chatrelay/config"
)

func openRecorder(t *testing.T) *GormRecorder {
	t.Helper()
	rec, err := Open(config.UsageConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "usage.db"),
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rec.Close() })

	g, ok := rec.(*GormRecorder)
	require.True(t, ok)
	return g
}

func TestOpen_DisabledReturnsNop(t *testing.T) {
	rec, err := Open(config.UsageConfig{}, nil)
	require.NoError(t, err)
	assert.IsType(t, NopRecorder{}, rec)
	assert.NoError(t, rec.Record(context.Background(), Record{}))
	assert.NoError(t, rec.Close())
}

func TestOpen_BadDriver(t *testing.T) {
	_, err := Open(config.UsageConfig{Driver: "oracle"}, nil)
	assert.Error(t, err)
}

func TestGormRecorder_RecordAndSummarize(t *testing.T) {
	r := openRecorder(t)
	ctx := context.Background()
	start := time.Now().UTC().Add(-time.Minute)

	require.NoError(t, r.Ping(ctx))
	require.NoError(t, r.Record(ctx, Record{SessionID: "s1", Transport: "interactive", Model: "mistral", PromptTokens: 10, RequestContext: 1418, AnswerChars: 5, Outcome: "completed"}))
	require.NoError(t, r.Record(ctx, Record{SessionID: "s1", Transport: "interactive", Model: "mistral", PromptTokens: 20, RequestContext: 1428, AnswerChars: 7, Outcome: "completed"}))
	require.NoError(t, r.Record(ctx, Record{SessionID: "s2", Transport: "plain", Model: "gpt-oss:20b", PromptTokens: 3, Outcome: "upstream_error"}))

	sums, err := r.Summarize(ctx, start)
	require.NoError(t, err)
	assert.Equal(t, []Summary{
		{Model: "gpt-oss:20b", Exchanges: 1, PromptTokens: 3, AnswerChars: 0},
		{Model: "mistral", Exchanges: 2, PromptTokens: 30, AnswerChars: 12},
	}, sums)

	later, err := r.Summarize(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, later)
}

func TestGormRecorder_SetsTimestamp(t *testing.T) {
	r := openRecorder(t)
	ctx := context.Background()

	require.NoError(t, r.Record(ctx, Record{SessionID: "s", Model: "m", Outcome: "completed"}))

	var stored Record
	require.NoError(t, r.pool.DB().First(&stored).Error)
	assert.False(t, stored.CreatedAt.IsZero())
	assert.Equal(t, "exchange_usage", stored.TableName())
}
