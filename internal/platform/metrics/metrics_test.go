package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveRequest(t *testing.T) {
	m := NewWithRegisterer(prometheus.NewRegistry())
	m.ObserveRequest(http.MethodGet, "/api/courses/{id}", http.StatusNotFound, 3*time.Millisecond)
	m.ObserveRequest(http.MethodGet, "/api/courses/{id}", http.StatusOK, time.Millisecond)
	m.IncrementPanics()

	assert.Equal(t, 2, testutil.CollectAndCount(m.RequestDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Panics))
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(201))
	assert.Equal(t, "3xx", statusClass(304))
	assert.Equal(t, "4xx", statusClass(400))
	assert.Equal(t, "5xx", statusClass(503))
}
