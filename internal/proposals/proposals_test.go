package proposals

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinbase-trader/internal/domain"
)

var t0 = time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)

const batchJSON = `{
  "id": "b-42",
  "regime": "bull",
  "generated_at": "2024-06-03T14:29:00Z",
  "proposals": [
    {"id": "p1", "symbol": "BTC-USD", "side": "BUY", "size_pct": 0.05, "stop_loss_pct": 0.03,
     "conviction": 0.8, "strategy_id": "momo", "tier": "tier1"},
    {"id": "p2", "symbol": "SOL-USD", "side": "SELL", "size_pct": 0.02, "exit_reason": "stop_loss"}
  ]
}`

func newSource(t *testing.T, maxAge time.Duration) (*FileSource, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proposals.json")
	return NewFileSource(Options{Path: path, MaxAge: maxAge, Now: func() time.Time { return t0 }}), path
}

func TestFileSource_ConsumesOnce(t *testing.T) {
	src, path := newSource(t, 5*time.Minute)
	require.NoError(t, os.WriteFile(path, []byte(batchJSON), 0o600))

	b, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b-42", b.ID)
	assert.Equal(t, "bull", b.Regime)
	require.Len(t, b.Proposals, 2)
	assert.Equal(t, domain.SideBuy, b.Proposals[0].Side)
	assert.Equal(t, domain.Tier1, b.Proposals[0].Tier)
	assert.Equal(t, domain.ExitReasonStopLoss, b.Proposals[1].ExitReason)

	again, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Empty(t, again.Proposals)

	_, err = os.Stat(path + ".consumed")
	assert.NoError(t, err)
}

func TestFileSource_MissingFileIsEmpty(t *testing.T) {
	src, _ := newSource(t, 0)

	b, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Empty(t, b.Proposals)
}

func TestFileSource_DropsStaleBatch(t *testing.T) {
	src, path := newSource(t, 30*time.Second)
	require.NoError(t, os.WriteFile(path, []byte(batchJSON), 0o600))

	b, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b-42", b.ID)
	assert.Empty(t, b.Proposals)
}

func TestFileSource_BadJSON(t *testing.T) {
	src, path := newSource(t, 0)
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))

	_, err := src.Next(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode proposal batch")
}

func TestStatic(t *testing.T) {
	src := &Static{Batches: []Batch{{ID: "a"}, {ID: "b"}}}
	ctx := context.Background()

	first, _ := src.Next(ctx)
	second, _ := src.Next(ctx)
	third, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", first.ID)
	assert.Equal(t, "b", second.ID)
	assert.Empty(t, third.ID)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = src.Next(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}
