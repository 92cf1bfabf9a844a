package node

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-btpnips/config"
	"github.com/dep2p/go-btpnips/internal/metrics"
	"github.com/dep2p/go-btpnips/internal/payment/claim"
	"github.com/dep2p/go-btpnips/internal/propagation"
	"github.com/dep2p/go-btpnips/internal/testutil"
)

func newObservability(t *testing.T) (*ObservabilityServer, *claim.MemoryChannelStore) {
	t.Helper()
	clk := clock.New()
	net := testutil.NewMemNetwork()
	tr := net.Join("observer")
	pe := propagation.NewEngine(
		propagation.NewDedupCache(time.Hour, 100, clk),
		propagation.NewHopLimiter(5, 16),
		propagation.NewRateLimiter(100, 1000, clk),
		propagation.NewDeliveredTracker(100, time.Hour, clk),
		tr,
		propagation.NotifyEncoder("g.btpnips.observer", "ETH", clk),
		propagation.Options{},
	)
	store := claim.NewMemoryChannelStore()
	return NewObservabilityServer(config.DefaultMetricsConfig(), metrics.New(clk), pe, store, nil), store
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestObservability_Routes(t *testing.T) {
	s, store := newObservability(t)
	router := s.Router()

	rec := get(t, router, "/stats/propagation")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats propagation.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Zero(t, stats.Subscriptions)

	assert.Equal(t, http.StatusOK, get(t, router, "/metrics").Code)
	assert.Equal(t, http.StatusOK, get(t, router, "/stats/bandwidth").Code)

	rec = get(t, router, "/connections")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, get(t, router, "/channels/"+testChannel).Code)

	require.NoError(t, store.Put(context.Background(), &claim.ChannelState{
		ChannelID:  testChannel,
		Currency:   claim.CurrencyETH,
		Sender:     "0x1111111111111111111111111111111111111111",
		Recipient:  "0x2222222222222222222222222222222222222222",
		Status:     claim.StatusOpen,
		Capacity:   1000,
		Expiration: time.Now().Add(time.Hour).Unix(),
	}))
	rec = get(t, router, "/channels/"+testChannel)
	require.Equal(t, http.StatusOK, rec.Code)
	var state claim.ChannelState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, uint64(1000), state.Capacity)
}

func TestObservability_DisabledDoesNotListen(t *testing.T) {
	s, _ := newObservability(t)
	require.NoError(t, s.Start(context.Background()))
	assert.Nil(t, s.Addr())
	assert.NoError(t, s.Stop(context.Background()))
}

func TestObservability_StartStop(t *testing.T) {
	s, _ := newObservability(t)
	s.cfg = config.MetricsConfig{Enable: true, ListenAddr: "127.0.0.1:0"}
	require.NoError(t, s.Start(context.Background()))
	require.NotNil(t, s.Addr())

	resp, err := http.Get("http://" + s.Addr().String() + "/stats/propagation")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
