package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRun(t *testing.T) {
	before := testutil.ToFloat64(runsTotal.WithLabelValues("alert"))
	failuresBefore := testutil.ToFloat64(runFailures)

	RecordRun("alert", time.Second, false)
	RecordRun("", time.Second, true)

	if got := testutil.ToFloat64(runsTotal.WithLabelValues("alert")) - before; got != 1 {
		t.Errorf("runs_total{level=alert} delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(runFailures) - failuresBefore; got != 1 {
		t.Errorf("run_failures_total delta = %v, want 1", got)
	}
}

func TestInFlight(t *testing.T) {
	before := testutil.ToFloat64(runsInFlight)

	IncrementInFlight()
	IncrementInFlight()
	DecrementInFlight()

	if got := testutil.ToFloat64(runsInFlight) - before; got != 1 {
		t.Errorf("runs_in_flight delta = %v, want 1", got)
	}
	DecrementInFlight()
}

func TestHandler(t *testing.T) {
	RecordTick(3)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "dbsentry_schedules_eligible 3") {
		t.Error("expected dbsentry_schedules_eligible in output")
	}
}
