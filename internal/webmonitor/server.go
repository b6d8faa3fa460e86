// Package webmonitor exposes a small read-mostly HTTP API over the running
// bot: status, positions, trade history and pause/resume control.
package webmonitor

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/copybot/gosol/internal/journal"
	"github.com/copybot/gosol/internal/positions"
	"github.com/copybot/gosol/internal/tracker"
	"github.com/copybot/gosol/pkg/logger"
)

var log = logger.M("webmonitor")

// Controller is the slice of the engine the API needs.
type Controller interface {
	Pause()
	Resume()
	Paused() bool
}

// TradeLog is the slice of the journal the API needs. May be nil.
type TradeLog interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Server serves the monitoring API.
type Server struct {
	addr       string
	controller Controller
	book       *positions.Book
	trk        *tracker.Tracker
	trades     TradeLog
	balance    func() decimal.Decimal
	startedAt  time.Time

	http *http.Server
}

// SetBalance provides the wallet SOL balance reported by /api/status.
func (s *Server) SetBalance(f func() decimal.Decimal) {
	s.balance = f
}

// New creates a Server listening on addr (e.g. ":8080").
func New(addr string, controller Controller, book *positions.Book, trk *tracker.Tracker, trades TradeLog) *Server {
	return &Server{
		addr:       addr,
		controller: controller,
		book:       book,
		trk:        trk,
		trades:     trades,
		startedAt:  time.Now(),
	}
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/positions", s.handlePositions)
		api.GET("/trades", s.handleTrades)
		api.GET("/wallets", s.handleWallets)
		api.POST("/pause", s.handlePause)
		api.POST("/resume", s.handleResume)
	}
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/", s.handleIndex)
	return r
}

// Start runs the HTTP server in the background.
func (s *Server) Start() {
	s.http = &http.Server{Addr: s.addr, Handler: s.router()}
	go func() {
		log.Infof("monitor api listening on %s", s.addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("serve: %v", err)
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleStatus(c *gin.Context) {
	stats := s.book.Stats()
	balance := decimal.Zero
	if s.balance != nil {
		balance = s.balance()
	}
	c.JSON(http.StatusOK, gin.H{
		"balance_sol":    balance,
		"paused":         s.controller.Paused(),
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"open_positions": stats.Open,
		"closed_trades":  stats.Closed,
		"wins":           stats.Wins,
		"losses":         stats.Losses,
		"realized_pnl":   stats.RealizedPnL,
		"invested_sol":   stats.Invested,
	})
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"open":   s.book.OpenPositions(),
		"closed": s.book.ClosedPositions(),
	})
}

func (s *Server) handleTrades(c *gin.Context) {
	if s.trades == nil {
		c.JSON(http.StatusOK, gin.H{"trades": []journal.Entry{}})
		return
	}
	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	entries, err := s.trades.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": entries})
}

func (s *Server) handleWallets(c *gin.Context) {
	if s.trk == nil {
		c.JSON(http.StatusOK, gin.H{"wallets": []tracker.WalletStats{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallets": s.trk.Stats()})
}

func (s *Server) handlePause(c *gin.Context) {
	s.controller.Pause()
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (s *Server) handleResume(c *gin.Context) {
	s.controller.Resume()
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexHTML))
}

// indexHTML is a single-page view over the JSON API; everything heavier
// belongs in a real frontend.
const indexHTML = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>copybot monitor</title>
<style>
body { font-family: monospace; background: #111; color: #ddd; margin: 2em; }
h1 { color: #6cf; font-size: 1.2em; }
table { border-collapse: collapse; margin: 1em 0; }
td, th { border: 1px solid #333; padding: 4px 10px; text-align: left; }
.gain { color: #6f6; } .loss { color: #f66; }
button { background: #222; color: #ddd; border: 1px solid #555; padding: 4px 12px; cursor: pointer; }
</style>
</head>
<body>
<h1>copybot monitor</h1>
<div id="status">loading…</div>
<p>
<button onclick="post('/api/pause')">pause</button>
<button onclick="post('/api/resume')">resume</button>
</p>
<h1>open positions</h1>
<table id="positions"></table>
<h1>recent trades</h1>
<table id="trades"></table>
<script>
async function post(url) { await fetch(url, {method: 'POST'}); refresh(); }
async function refresh() {
  const st = await (await fetch('/api/status')).json();
  document.getElementById('status').textContent =
    (st.paused ? 'PAUSED' : 'running') +
    ' | open ' + st.open_positions + ' | closed ' + st.closed_trades +
    ' (' + st.wins + 'W/' + st.losses + 'L) | pnl ' + st.realized_pnl + ' SOL';
  const pos = await (await fetch('/api/positions')).json();
  document.getElementById('positions').innerHTML =
    '<tr><th>mint</th><th>invested</th><th>source</th></tr>' +
    (pos.open || []).map(p =>
      '<tr><td>' + p.mint + '</td><td>' + p.sol_invested + '</td><td>' + p.source_wallet + '</td></tr>'
    ).join('');
  const tr = await (await fetch('/api/trades?limit=20')).json();
  document.getElementById('trades').innerHTML =
    '<tr><th>time</th><th>side</th><th>mint</th><th>sol</th><th>sig</th></tr>' +
    (tr.trades || []).map(t =>
      '<tr><td>' + t.ts + '</td><td>' + t.side + '</td><td>' + t.mint +
      '</td><td>' + t.sol_amount + '</td><td>' + t.signature + '</td></tr>'
    ).join('');
}
refresh();
setInterval(refresh, 5000);
</script>
</body>
</html>
`
