package debug

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/flawtracker/pkg/metrics"
)

func TestMux(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.New("flawtracker_test", reg)
	m.IncRecords("created")

	mux := Mux(reg)

	tests := []struct {
		path string
		want int
	}{
		{path: "/debug/pprof/", want: http.StatusOK},
		{path: "/debug/vars", want: http.StatusOK},
		{path: "/debug/statsviz/", want: http.StatusOK},
		{path: "/metrics", want: http.StatusOK},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		assert.Equal(t, tt.want, rec.Code, tt.path)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `flawtracker_test_records_total{outcome="created"} 1`)

	noMetrics := Mux(nil)
	rec = httptest.NewRecorder()
	noMetrics.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
