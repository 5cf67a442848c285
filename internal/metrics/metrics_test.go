package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	return rec.Body.String()
}

func TestObservationsAreExposed(t *testing.T) {
	ObserveStoreOp("test_op", time.Now(), errors.New("boom"))
	ObserveHTTP("GET /test", 404)
	ObserveSync("feed-a", 3, nil)
	ObserveSync("feed-a", 0, errors.New("offline"))

	body := scrape(t)
	for _, want := range []string{
		`calen_store_operations_total{op="test_op",result="error"} 1`,
		`calen_store_operation_duration_seconds_count{op="test_op"} 1`,
		`calen_http_requests_total{code="404",route="GET /test"} 1`,
		`calen_feed_sync_runs_total{result="error",source="feed-a"} 1`,
		`calen_feed_sync_runs_total{result="ok",source="feed-a"} 1`,
		`calen_feed_imported_events_total{source="feed-a"} 3`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
