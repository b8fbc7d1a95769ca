package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"options_ledger/pkg/logging"

	"github.com/stretchr/testify/assert"
)

func TestServer_ServesMetrics(t *testing.T) {
	s := NewServer(0, logging.NewNop())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
