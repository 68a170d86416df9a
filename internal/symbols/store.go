package symbols

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"KisBridge/internal/model"

	_ "modernc.org/sqlite"
)

// Store caches downloaded master data in a SQLite database so cold starts can
// resolve symbols without hitting the download host.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens (or creates) the cache database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so resolver reads do not block a refresh in progress.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] symbol cache opened: %s", dbPath)
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS symbol_master (
			market          TEXT NOT NULL,
			ticker          TEXT NOT NULL,
			exchange_code   TEXT NOT NULL,
			realtime_ticker TEXT NOT NULL,
			refreshed_at    INTEGER NOT NULL,
			PRIMARY KEY (market, ticker)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_symbol_market ON symbol_master(market)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// Save replaces one market's cached rows atomically.
func (s *Store) Save(market string, syms map[string]model.Symbol) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM symbol_master WHERE market = ?`, market); err != nil {
		return fmt.Errorf("clear %s rows: %w", market, err)
	}

	now := time.Now().Unix()
	stmt, err := tx.Prepare(`INSERT INTO symbol_master
		(market, ticker, exchange_code, realtime_ticker, refreshed_at)
		VALUES (?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, sym := range syms {
		if _, err := stmt.Exec(market, sym.Ticker, sym.ExchangeCode, sym.RealtimeTicker, now); err != nil {
			return fmt.Errorf("insert %s: %w", sym.Ticker, err)
		}
	}
	return tx.Commit()
}

// Load returns one market's cached rows; an empty map means a cache miss.
func (s *Store) Load(market string) (map[string]model.Symbol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT ticker, exchange_code, realtime_ticker
		FROM symbol_master WHERE market = ?`, market)
	if err != nil {
		return nil, fmt.Errorf("query %s rows: %w", market, err)
	}
	defer rows.Close()

	out := make(map[string]model.Symbol)
	for rows.Next() {
		var sym model.Symbol
		if err := rows.Scan(&sym.Ticker, &sym.ExchangeCode, &sym.RealtimeTicker); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out[sym.Ticker] = sym
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	log.Println("[INFO] closing symbol cache")
	return s.db.Close()
}
