package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/splitledger/settlement"
)

func TestObserveCompute_ClassifiesOutcome(t *testing.T) {
	m := New()

	m.ObserveCompute(settlement.ModeOneOff, time.Millisecond, nil)
	m.ObserveCompute(settlement.ModeOneOff, time.Millisecond, settlement.NewValidationError("participants", "none"))
	m.ObserveCompute(settlement.ModeRecurring, time.Millisecond, &settlement.ConsistencyError{})
	m.ObserveCompute("", time.Millisecond, settlement.NewNotFoundError("group", "g1"))
	m.ObserveCompute(settlement.ModeRecurring, time.Millisecond, errors.New("disk"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.computes.WithLabelValues("ONE_OFF", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.computes.WithLabelValues("ONE_OFF", "validation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.computes.WithLabelValues("RECURRING", "consistency")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.computes.WithLabelValues("unknown", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.computes.WithLabelValues("RECURRING", "error")))
}

func TestObserveFinalize(t *testing.T) {
	m := New()

	m.ObserveFinalize(settlement.FinalizeCreated, time.Millisecond, 3)
	m.ObserveFinalize(settlement.FinalizeDuplicate, time.Millisecond, 0)
	m.ObserveFinalize(settlement.FinalizeCreated, time.Millisecond, 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.finalizes.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.finalizes.WithLabelValues("duplicate")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.archivedPayments))
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/groups/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", m.Handler())

	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/groups/"+id, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/groups/{id}", "404")))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "splitledger_http_requests_total")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
