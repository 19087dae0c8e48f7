package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func metricValue(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if out.Counter != nil {
		return out.GetCounter().GetValue()
	}
	return out.GetGauge().GetValue()
}

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                   "/",
		"/metrics":                           "/metrics",
		"/v1/users":                          "/v1/users",
		"/v1/users/01HZX3":                   "/v1/users/:id",
		"/v1/users/01HZX3/approve":           "/v1/users/:id/approve",
		"/v1/users/01HZX3/reject":            "/v1/users/:id/reject",
		"/v1/users/01HZX3/extra":             "/v1/users/01HZX3/extra",
		"/v1/auth/token":                     "/v1/auth/token",
		"/v1/notifications/01HZX4/read":      "/v1/notifications/:id/read",
		"/v1/users/01HZX3?include=audit":     "/v1/users/:id",
		"/v1/users/01HZX3/approve?dry_run=1": "/v1/users/:id/approve",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsCanonicalPath(t *testing.T) {
	handler := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	before := metricValue(t, httpRequestsTotal.WithLabelValues(http.MethodPost, "/v1/users/:id/approve", "202"))
	req := httptest.NewRequest(http.MethodPost, "/v1/users/01HZX3/approve", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	after := metricValue(t, httpRequestsTotal.WithLabelValues(http.MethodPost, "/v1/users/:id/approve", "202"))
	if after-before != 1 {
		t.Fatalf("expected counter to grow by 1, got %v", after-before)
	}
}

func TestAuthCounters(t *testing.T) {
	before := metricValue(t, authLogins.WithLabelValues("success"))
	ObserveLogin("success")
	if got := metricValue(t, authLogins.WithLabelValues("success")); got-before != 1 {
		t.Fatalf("expected login counter increment, got %v", got-before)
	}

	SetReady(true)
	if got := metricValue(t, serviceReady); got != 1 {
		t.Fatalf("expected ready gauge 1, got %v", got)
	}
	SetReady(false)
	if got := metricValue(t, serviceReady); got != 0 {
		t.Fatalf("expected ready gauge 0, got %v", got)
	}
}

func TestInitBuildInfo(t *testing.T) {
	info := InitBuildInfo("1.2.3", "abc123")
	if info.Version != "1.2.3" || info.Commit != "abc123" || info.GoVersion == "" {
		t.Fatalf("unexpected build info %+v", info)
	}
	if Build() != info {
		t.Fatalf("Build() = %+v, want %+v", Build(), info)
	}
	if got := metricValue(t, buildInfo.WithLabelValues("1.2.3", "abc123", info.GoVersion)); got != 1 {
		t.Fatalf("expected build_info gauge 1, got %v", got)
	}

	// Re-initialising replaces the series instead of adding a second one.
	InitBuildInfo("1.2.4", "def456")
	if got := metricValue(t, buildInfo.WithLabelValues("1.2.3", "abc123", info.GoVersion)); got != 0 {
		t.Fatalf("stale build_info series still set: %v", got)
	}
}
