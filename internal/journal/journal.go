// Package journal persists every executed (or simulated) trade to sqlite so
// sessions can be audited after the fact.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/copybot/gosol/pkg/logger"
)

var log = logger.M("journal")

// Entry is one executed trade.
type Entry struct {
	ID           string          `json:"id"`
	At           time.Time       `json:"ts"`
	Side         string          `json:"side"` // buy / sell
	Mint         string          `json:"mint"`
	SourceWallet string          `json:"source_wallet"`
	Platform     string          `json:"platform"`
	Rule         string          `json:"rule"` // exit rule name, empty for entries
	SOLAmount    decimal.Decimal `json:"sol_amount"`
	TokenAmount  decimal.Decimal `json:"token_amount"`
	Signature    string          `json:"signature"`
	DryRun       bool            `json:"dry_run"`
}

// Journal is a sqlite-backed trade log.
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// Close releases the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS trades (
  id TEXT PRIMARY KEY,
  ts TEXT NOT NULL,
  side TEXT NOT NULL,
  mint TEXT NOT NULL,
  source_wallet TEXT NOT NULL,
  platform TEXT NOT NULL,
  rule TEXT,
  sol_amount TEXT NOT NULL,
  token_amount TEXT NOT NULL,
  signature TEXT,
  dry_run INTEGER NOT NULL DEFAULT 0
);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(ts DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_mint ON trades(mint, ts DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("journal: migrate: %w", err)
		}
	}
	return nil
}

// Record inserts an entry. A missing id or timestamp is filled in.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	dryRun := 0
	if e.DryRun {
		dryRun = 1
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO trades (id,ts,side,mint,source_wallet,platform,rule,sol_amount,token_amount,signature,dry_run)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
`, e.ID, e.At.Format(time.RFC3339Nano), e.Side, e.Mint, e.SourceWallet, e.Platform, e.Rule,
		e.SOLAmount.String(), e.TokenAmount.String(), e.Signature, dryRun)
	if err != nil {
		return fmt.Errorf("journal: insert trade: %w", err)
	}
	log.Debugf("recorded %s %s %s SOL", e.Side, e.Mint, e.SOLAmount)
	return nil
}

// Recent returns the latest entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id,ts,side,mint,source_wallet,platform,rule,sol_amount,token_amount,signature,dry_run
FROM trades ORDER BY ts DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ByMint returns the entries for one token, newest first.
func (j *Journal) ByMint(ctx context.Context, mint string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id,ts,side,mint,source_wallet,platform,rule,sol_amount,token_amount,signature,dry_run
FROM trades WHERE mint=? ORDER BY ts DESC LIMIT ?
`, mint, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var ts, sol, tokens string
	var rule, sig sql.NullString
	var dryRun int
	if err := rows.Scan(&e.ID, &ts, &e.Side, &e.Mint, &e.SourceWallet, &e.Platform, &rule, &sol, &tokens, &sig, &dryRun); err != nil {
		return Entry{}, err
	}
	e.At, _ = time.Parse(time.RFC3339Nano, ts)
	e.Rule = rule.String
	e.Signature = sig.String
	e.SOLAmount, _ = decimal.NewFromString(sol)
	e.TokenAmount, _ = decimal.NewFromString(tokens)
	e.DryRun = dryRun != 0
	return e, nil
}

// Summary aggregates the session.
type Summary struct {
	Trades  int             `json:"trades"`
	Buys    int             `json:"buys"`
	Sells   int             `json:"sells"`
	BuySOL  decimal.Decimal `json:"buy_sol"`
	SellSOL decimal.Decimal `json:"sell_sol"`
}

// Summarize computes totals since the given time.
func (j *Journal) Summarize(ctx context.Context, since time.Time) (Summary, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT side, sol_amount FROM trades WHERE ts >= ?
`, since.Format(time.RFC3339Nano))
	if err != nil {
		return Summary{}, err
	}
	defer rows.Close()

	s := Summary{BuySOL: decimal.Zero, SellSOL: decimal.Zero}
	for rows.Next() {
		var side, sol string
		if err := rows.Scan(&side, &sol); err != nil {
			return Summary{}, err
		}
		amount, _ := decimal.NewFromString(sol)
		s.Trades++
		switch side {
		case "buy":
			s.Buys++
			s.BuySOL = s.BuySOL.Add(amount)
		case "sell":
			s.Sells++
			s.SellSOL = s.SellSOL.Add(amount)
		}
	}
	return s, rows.Err()
}
