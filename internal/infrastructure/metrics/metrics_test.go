package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/mechabus-gateway/internal/provider"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.SessionOpened("subscriber")
	m.SessionOpened("subscriber")
	m.SessionClosed("subscriber")
	m.SessionRoleChanged("subscriber", "peer")
	if got := testutil.ToFloat64(m.sessionsActive.WithLabelValues("subscriber")); got != 0 {
		t.Errorf("subscriber sessions = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.sessionsActive.WithLabelValues("peer")); got != 1 {
		t.Errorf("peer sessions = %v, want 1", got)
	}

	m.MessageHandled("set", nil)
	m.MessageHandled("set", errors.New("boom"))
	m.MessageHandled("set", nil)
	if got := testutil.ToFloat64(m.messages.WithLabelValues("set", OutcomeOK)); got != 2 {
		t.Errorf("set ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.messages.WithLabelValues("set", OutcomeError)); got != 1 {
		t.Errorf("set error = %v, want 1", got)
	}

	m.Broadcast()
	if got := testutil.ToFloat64(m.broadcasts); got != 1 {
		t.Errorf("broadcasts = %v, want 1", got)
	}

	m.ProviderCall("get", provider.KindRemote, nil, 20*time.Millisecond)
	if got := testutil.ToFloat64(m.providerCalls.WithLabelValues("get", "remote", OutcomeOK)); got != 1 {
		t.Errorf("provider calls = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.providerLatency); n != 1 {
		t.Errorf("latency series = %d, want 1", n)
	}

	m.SafetyForcedOff("pump")
	if got := testutil.ToFloat64(m.safetyForcedOff.WithLabelValues("pump")); got != 1 {
		t.Errorf("forced off = %v, want 1", got)
	}

	m.UplinkConnected(true)
	if got := testutil.ToFloat64(m.uplinkConnected); got != 1 {
		t.Errorf("uplink connected = %v, want 1", got)
	}
	m.UplinkConnected(false)
	m.UplinkDisabled()
	m.UplinkReconnectScheduled(time.Second)
	if got := testutil.ToFloat64(m.uplinkConnected); got != 0 {
		t.Errorf("uplink connected = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.uplinkDisabled); got != 1 {
		t.Errorf("uplink disabled = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.uplinkReconnects); got != 1 {
		t.Errorf("uplink reconnects = %v, want 1", got)
	}
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	a, b := New(), New()
	a.Broadcast()
	if got := testutil.ToFloat64(b.broadcasts); got != 0 {
		t.Errorf("second instance broadcasts = %v, want 0", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SafetyForcedOff("pump")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `mechabus_safety_forced_off_total{id="pump"} 1`) {
		t.Errorf("exposition missing forced-off series:\n%s", body)
	}
}
