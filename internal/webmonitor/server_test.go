package webmonitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copybot/gosol/internal/journal"
	"github.com/copybot/gosol/internal/positions"
)

type fakeController struct{ paused bool }

func (f *fakeController) Pause()       { f.paused = true }
func (f *fakeController) Resume()      { f.paused = false }
func (f *fakeController) Paused() bool { return f.paused }

type fakeTradeLog struct{ entries []journal.Entry }

func (f *fakeTradeLog) Recent(context.Context, int) ([]journal.Entry, error) {
	return f.entries, nil
}

func newTestServer(t *testing.T) (*Server, *fakeController, *positions.Book) {
	t.Helper()
	ctrl := &fakeController{}
	book := positions.NewBook(0, nil)
	srv := New(":0", ctrl, book, nil, &fakeTradeLog{entries: []journal.Entry{
		{Side: "buy", Mint: "MintA", SOLAmount: decimal.RequireFromString("0.01"), TokenAmount: decimal.Zero},
	}})
	return srv, ctrl, book
}

func doRequest(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	srv.router().ServeHTTP(w, req)
	return w
}

func TestStatusEndpoint(t *testing.T) {
	srv, ctrl, book := newTestServer(t)
	require.NoError(t, book.Open(&positions.Position{
		Mint: "MintA", TokenAmount: decimal.RequireFromString("100"),
		SOLInvested: decimal.RequireFromString("0.01"),
	}))
	ctrl.paused = true

	w := doRequest(t, srv, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["paused"])
	assert.Equal(t, float64(1), body["open_positions"])
}

func TestPositionsEndpoint(t *testing.T) {
	srv, _, book := newTestServer(t)
	require.NoError(t, book.Open(&positions.Position{
		Mint: "MintA", TokenAmount: decimal.RequireFromString("100"),
		SOLInvested: decimal.RequireFromString("0.01"),
	}))

	w := doRequest(t, srv, http.MethodGet, "/api/positions")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "MintA")
}

func TestTradesEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := doRequest(t, srv, http.MethodGet, "/api/trades")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "MintA")
}

func TestPauseResume(t *testing.T) {
	srv, ctrl, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/pause")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, ctrl.paused)

	w = doRequest(t, srv, http.MethodPost, "/api/resume")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, ctrl.paused)
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := doRequest(t, srv, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestIndexPage(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := doRequest(t, srv, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "copybot monitor")
}

func TestStatusIncludesBalance(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv.SetBalance(func() decimal.Decimal { return decimal.RequireFromString("1.25") })

	w := doRequest(t, srv, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "1.25", body["balance_sol"])
}
