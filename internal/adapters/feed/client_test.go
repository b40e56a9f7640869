package feed_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/tradegate/internal/adapters/feed"
	"github.com/alejandrodnm/tradegate/internal/domain"
)

func TestQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/quotes/AAPL", r.URL.Path)
		w.Write([]byte(`{"symbol":"AAPL","bid":185.0,"ask":185.1,"ts_feed":1750000000000}`))
	}))
	defer srv.Close()

	q, err := feed.New(srv.URL).Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q.Symbol)
	assert.Equal(t, 185.0, q.Bid)
	assert.False(t, q.TsRecv.IsZero())
}

func TestQuote_RetriesServerErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"symbol":"AAPL","bid":1,"ask":2,"ts_feed":0}`))
	}))
	defer srv.Close()

	q, err := feed.New(srv.URL).Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 1.0, q.Bid)
}

func TestQuote_ClientErrorsAreNotRetried(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := feed.New(srv.URL).Quote(context.Background(), "NOPE")
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestSnapshot_HealthFetchFailureIsUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	snap, err := feed.New(srv.URL).Snapshot(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestSnapshot_ExhaustedErrorBudgetIsStale(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"quote_age_s":1.0,"broker_age_s":2.0,"error_budget":0,"stale":false}`))
	}))
	defer srv.Close()

	snap, err := feed.New(srv.URL).Snapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.True(t, snap.Stale)
}

func TestSignals(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/signals", r.URL.Path)
		w.Write([]byte(`{
			"signals": [{"symbol":"AAPL","side":"BUY","strategy_id":"alpha","confidence":1.4,"price":185,"spread_bps":8,"costs_est":0.1,"quantity":10}],
			"stats": {"alpha":{"pf_after_costs":1.5,"trades_count":100,"win_rate":0.6,"avg_win":2,"avg_loss":1}}
		}`))
	}))
	defer srv.Close()

	signals, stats, err := feed.New(srv.URL).Signals(context.Background())
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, domain.SideBuy, signals[0].Side)
	// confidence is clamped into [0,1]
	assert.Equal(t, 1.0, signals[0].Confidence)
	require.Contains(t, stats, "alpha")
	assert.Equal(t, 100, stats["alpha"].Trades)
}

func TestStrategyPerformance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/performance/theta-harvest", r.URL.Path)
		w.Write([]byte(`{"sharpe":1.4,"max_drawdown":0.08,"win_rate":0.55,"trades":40,"avg_slippage_bps":6,"trace_completeness":0.99}`))
	}))
	defer srv.Close()

	perf, err := feed.New(srv.URL).StrategyPerformance(context.Background(), "theta-harvest")
	require.NoError(t, err)
	assert.Equal(t, 1.4, perf.Sharpe)
	assert.Equal(t, 40, perf.Trades)
}
