package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/lockstep/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordStep("simulator", 73, 0, 2*time.Millisecond)
	RecordStep("driver", 73, 12, 3*time.Millisecond)
	RecordSessionEvent("driver", "accepted")
	RecordHTTPRequest("driver", "GET", "/health", 200)
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	RecordStep("driver", 100, 5, time.Millisecond)
	r := Router("driver", func() gin.H { return gin.H{"ticks": 7} })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"role":"driver"`)
	require.Contains(t, w.Body.String(), `"ticks":7`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, strings.Contains(w.Body.String(), "lockstep_step_total"), "metrics body missing step counter")
}
