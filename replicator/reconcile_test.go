package replicator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/copytrader/account"
	"github.com/rustyeddy/copytrader/exchange"
	"github.com/rustyeddy/copytrader/exchange/paper"
)

var ethFilters = exchange.Filters{StepSize: dec("0.01"), MinQty: dec("0.01")}

func reconcileVenue(userID, equity string, extra ...paper.Option) *paper.Exchange {
	opts := []paper.Option{
		paper.WithEquity(dec(equity)),
		paper.WithFilters("BTCUSDT", btcFilters),
		paper.WithFilters("ETHUSDT", ethFilters),
		paper.WithMark("BTCUSDT", dec("50000")),
		paper.WithMark("ETHUSDT", dec("3000")),
	}
	return paper.New(userID, append(opts, extra...)...)
}

func newReconcileFixture(t *testing.T, cfg ReconcileConfig, leaderOpts, followerOpts []paper.Option) (*Reconciler, *stubHandles, *paper.Exchange, *paper.Exchange) {
	t.Helper()

	leaderAcct := account.Account{UserID: "leader", Exchange: account.ExchangePaper, PaperEquity: dec("10000")}
	reg, err := account.NewRegistry(leaderAcct, []account.Account{follower("f1", "5000", "1")})
	require.NoError(t, err)

	handles := newStubHandles()
	leaderVenue := reconcileVenue("leader", "10000", leaderOpts...)
	followerVenue := reconcileVenue("f1", "5000", followerOpts...)
	handles.add("leader", leaderVenue)
	handles.add("f1", followerVenue)

	return NewReconciler(cfg, reg, handles, nil), handles, leaderVenue, followerVenue
}

func leaderLong(symbol, amount, entry, mark string) exchange.Position {
	return exchange.Position{
		Symbol:     symbol,
		Side:       exchange.Buy,
		Amount:     dec(amount),
		EntryPrice: dec(entry),
		MarkPrice:  dec(mark),
	}
}

func TestReconcileInSync(t *testing.T) {
	t.Parallel()

	pos := leaderLong("BTCUSDT", "1.0", "50000", "50100")
	fpos := leaderLong("BTCUSDT", "0.5", "50000", "50100")
	rec, _, _, followerVenue := newReconcileFixture(t, ReconcileConfig{},
		[]paper.Option{paper.WithPosition(pos)},
		[]paper.Option{paper.WithPosition(fpos)})

	sum, err := rec.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, sum.empty())
	assert.Empty(t, followerVenue.Orders())
}

func TestReconcileClosesOrphan(t *testing.T) {
	t.Parallel()

	orphan := leaderLong("ETHUSDT", "2.0", "3000", "3000")
	rec, _, _, followerVenue := newReconcileFixture(t, ReconcileConfig{},
		nil,
		[]paper.Option{paper.WithPosition(orphan)})

	sum, err := rec.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.OrphansClosed)

	orders := followerVenue.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, "ETHUSDT", orders[0].Symbol)
	assert.Equal(t, exchange.Sell, orders[0].Side)
	assert.Equal(t, "2", orders[0].Amount.String())

	positions, err := followerVenue.GetPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions, "orphan must be flat after the sweep")
}

func TestReconcileJoinsLate(t *testing.T) {
	t.Parallel()

	pos := leaderLong("BTCUSDT", "1.0", "50000", "50100")
	rec, _, _, followerVenue := newReconcileFixture(t, ReconcileConfig{},
		[]paper.Option{paper.WithPosition(pos)},
		nil)

	sum, err := rec.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Joins)

	orders := followerVenue.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, exchange.Buy, orders[0].Side)
	assert.Equal(t, "0.5", orders[0].Amount.String(), "join is scaled by the equity ratio")
}

func TestReconcileSkipsDriftedJoin(t *testing.T) {
	t.Parallel()

	// Mark ran 2% past the leader's entry, well over the drift ceiling.
	pos := leaderLong("BTCUSDT", "1.0", "50000", "51000")
	rec, _, _, followerVenue := newReconcileFixture(t, ReconcileConfig{},
		[]paper.Option{paper.WithPosition(pos)},
		nil)

	sum, err := rec.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)
	assert.Zero(t, sum.Joins)
	assert.Empty(t, followerVenue.Orders())
}

func TestReconcileSkipsStaleJoin(t *testing.T) {
	t.Parallel()

	pos := leaderLong("BTCUSDT", "1.0", "50000", "50100")
	rec, _, _, followerVenue := newReconcileFixture(t, ReconcileConfig{},
		[]paper.Option{paper.WithPosition(pos)},
		nil)

	// The position was first observed an hour ago, past the join window.
	rec.firstSeen["BTCUSDT"] = time.Now().Add(-time.Hour)

	sum, err := rec.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)
	assert.Empty(t, followerVenue.Orders())
}

func TestReconcileForgetsClosedSymbols(t *testing.T) {
	t.Parallel()

	rec, _, leaderVenue, _ := newReconcileFixture(t, ReconcileConfig{}, nil, nil)
	rec.firstSeen["BTCUSDT"] = time.Now().Add(-time.Hour)

	_, err := rec.ReconcileOnce(context.Background())
	require.NoError(t, err)

	_, tracked := rec.firstSeen["BTCUSDT"]
	assert.False(t, tracked, "symbols the leader no longer holds drop out of tracking")
	assert.Equal(t, 1, leaderVenue.Calls(paper.OpPositions))
}

func TestReconcileLeaderUnreachable(t *testing.T) {
	t.Parallel()

	rec, handles, _, _ := newReconcileFixture(t, ReconcileConfig{}, nil, nil)
	handles.err["leader"] = exchange.NewError(exchange.KindNetworkTimeout, "connect", errors.New("dial timeout"))

	_, err := rec.ReconcileOnce(context.Background())
	require.Error(t, err)
}

func TestReconcileCountsFollowerErrors(t *testing.T) {
	t.Parallel()

	pos := leaderLong("BTCUSDT", "1.0", "50000", "50100")
	rec, _, _, followerVenue := newReconcileFixture(t, ReconcileConfig{},
		[]paper.Option{paper.WithPosition(pos)},
		nil)

	followerVenue.FailNext(paper.OpPositions,
		exchange.NewError(exchange.KindTransient, "positions", errors.New("match engine busy")))

	sum, err := rec.ReconcileOnce(context.Background())
	require.NoError(t, err, "follower trouble never fails the sweep")
	assert.Equal(t, 1, sum.Errors)
	assert.Empty(t, followerVenue.Orders())
}

func TestReconcilerRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	rec, _, _, _ := newReconcileFixture(t, ReconcileConfig{Interval: 5 * time.Millisecond}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- rec.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop after cancellation")
	}
}
