package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/glebarez/go-sqlite"

	"perp-market/src/engine"
)

// EventStore keeps an append-only record of market creations and of the
// queue events handed to the settlement consumer.
type EventStore struct {
	db *sql.DB
}

func NewEventStore(dbPath string) (*EventStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// one writer keeps transactions from tripping over SQLITE_BUSY
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS markets (
			grp TEXT NOT NULL,
			market_index INTEGER NOT NULL,
			address TEXT NOT NULL,
			name TEXT NOT NULL,
			ts INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (grp, market_index)
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create markets table: %w", err)
	}

	// seq_num restarts with the in-memory queue, so rows are keyed by id
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			market_index INTEGER NOT NULL,
			seq_num INTEGER NOT NULL,
			kind TEXT NOT NULL,
			ts INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create events table: %w", err)
	}
	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS events_market_seq ON events (market_index, seq_num);"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create events index: %w", err)
	}

	return &EventStore{db: db}, nil
}

// SaveMarketCreated records a creation. A market index recreated after a
// restart replaces the previous row.
func (s *EventStore) SaveMarketCreated(ctx context.Context, ev engine.MarketCreated) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal market created: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO markets (grp, market_index, address, name, ts, payload) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(grp, market_index) DO UPDATE SET
			address=excluded.address, name=excluded.name, ts=excluded.ts, payload=excluded.payload`,
		ev.Group.String(), int64(ev.PerpMarketIndex), ev.PerpMarket.String(), ev.Name, int64(ev.Timestamp), payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert market created: %w", err)
	}
	return nil
}

// SaveEvents writes the batch in one transaction; either every event is
// stored or none is.
func (s *EventStore) SaveEvents(ctx context.Context, market engine.PerpMarketIndex, events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO events (market_index, seq_num, kind, ts, payload) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event %d: %w", ev.SeqNum, err)
		}
		if _, err := stmt.ExecContext(ctx, int64(market), int64(ev.SeqNum), string(ev.Kind), int64(ev.Timestamp), payload); err != nil {
			return fmt.Errorf("failed to insert event %d: %w", ev.SeqNum, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit events: %w", err)
	}
	return nil
}

func (s *EventStore) LoadMarketsCreated(ctx context.Context) ([]engine.MarketCreated, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT payload FROM markets ORDER BY market_index ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query markets: %w", err)
	}
	defer rows.Close()

	var out []engine.MarketCreated
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan market: %w", err)
		}
		var ev engine.MarketCreated
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal market: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// LoadEvents returns the stored events of one market in insertion order.
func (s *EventStore) LoadEvents(ctx context.Context, market engine.PerpMarketIndex) ([]engine.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT payload FROM events WHERE market_index = ? ORDER BY id ASC", int64(market))
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []engine.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		var ev engine.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *EventStore) Close() error {
	return s.db.Close()
}
