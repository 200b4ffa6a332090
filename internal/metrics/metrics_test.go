package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eugenenazirov/launchkitd/internal/remoteflow"
)

func TestObserversCount(t *testing.T) {
	m := New()

	m.FlowLoaded("a", nil)
	m.FlowLoaded("a", &remoteflow.LoadError{Kind: remoteflow.KindNetwork})
	m.FlowLoaded("b", &remoteflow.LoadError{Kind: remoteflow.KindNetwork})
	m.FlowDismissed("a", remoteflow.ResultCompleted)
	m.ConfigSynced(4, nil)
	m.ConfigSynced(4, errors.New("offline"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.flowLoads.WithLabelValues("loaded")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.flowLoads.WithLabelValues("network")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.flowDismisses.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.configSyncs.WithLabelValues("error")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.configVersion))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.FlowLoaded("a", nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `launchkit_flow_loads_total{outcome="loaded"} 1`))
}
