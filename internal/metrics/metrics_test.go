package metrics

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hijackRecorder fakes a writer whose connection can be taken over, the way
// a real server connection can during a websocket upgrade.
type hijackRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (r *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	r.hijacked = true
	return nil, nil, nil
}

func TestInstrumentHandlerPreservesFlush(t *testing.T) {
	var flushable bool
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		var f http.Flusher
		f, flushable = w.(http.Flusher)
		if flushable {
			f.Flush()
		}
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/readings/abc/stream", nil))

	assert.True(t, flushable, "SSE handlers need http.Flusher through the middleware")
	assert.True(t, rec.Flushed)
}

func TestInstrumentHandlerPreservesHijack(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hj, ok := w.(http.Hijacker)
		require.True(t, ok, "websocket upgrades need http.Hijacker through the middleware")
		_, _, err := hj.Hijack()
		require.NoError(t, err)
	}))

	rec := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/readings/abc/ws", nil))

	assert.True(t, rec.hijacked)
}

func TestHijackWithoutSupportErrors(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rec.Hijack()
	assert.Error(t, err)
}

func TestCanonicalPathCollapsesJobIDs(t *testing.T) {
	assert.Equal(t, "/api/readings/:id/stream", canonicalPath("/api/readings/9f2c/stream"))
	assert.Equal(t, "/api/readings/:id", canonicalPath("/api/readings/9f2c"))
	assert.Equal(t, "/api/readings", canonicalPath("/api/readings"))
	assert.Equal(t, "/healthz", canonicalPath("/healthz"))
}
