package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainrelay/chainhooks/internal/chain"
)

func TestInitIsIdempotent(t *testing.T) {
	a := Init()
	b := Init()
	assert.Same(t, a, b)
}

func TestCountersIncrementAndExposeViaHandler(t *testing.T) {
	m := Init()
	m.BlocksApplied(chain.L1)
	m.BlocksRolledBack(chain.L1)
	m.OccurrencesMatched(chain.L1)
	m.DispatchSent(chain.L1, "http_post")
	m.DispatchFailed(chain.L1, "http_post")
	m.ScannerLag(chain.L1, 3)
	m.Errors()

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, "chainhooks_blocks_applied_total"))
	assert.True(t, strings.Contains(body, "chainhooks_scanner_lag_blocks"))
}

func TestNilMetricsMethodsDoNotPanic(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.BlocksApplied(chain.L1)
		m.BlocksRolledBack(chain.L1)
		m.OccurrencesMatched(chain.L1)
		m.DispatchSent(chain.L1, "noop")
		m.DispatchFailed(chain.L1, "noop")
		m.ScannerLag(chain.L1, 0)
		m.Errors()
	})
}
