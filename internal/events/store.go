package events

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the durable event journal behind the bus
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the journal database at path
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event journal: %w", err)
	}
	// A single writer keeps the journal simple and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	store, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStore wraps an existing database handle and initializes the schema
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		topic TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		delivered_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_events_topic ON events(topic, delivered_at);
	CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

// Save persists an event to the journal
func (s *SQLiteStore) Save(event *Event) error {
	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO events (id, topic, payload, created_at, delivered_at)
		VALUES (?, ?, ?, ?, NULL)
	`

	_, err = s.db.Exec(query,
		event.ID,
		string(event.Topic),
		string(payloadJSON),
		event.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	return nil
}

// GetPending retrieves undelivered events, oldest first.
// If topics is nil or empty, all topics are returned.
func (s *SQLiteStore) GetPending(topics []Topic) ([]*Event, error) {
	var query string
	var args []interface{}

	if len(topics) == 0 {
		query = `
			SELECT id, topic, payload, created_at
			FROM events
			WHERE delivered_at IS NULL
			ORDER BY created_at ASC
		`
	} else {
		placeholders := ""
		for i, topic := range topics {
			if i > 0 {
				placeholders += ", "
			}
			placeholders += "?"
			args = append(args, string(topic))
		}
		query = fmt.Sprintf(`
			SELECT id, topic, payload, created_at
			FROM events
			WHERE delivered_at IS NULL AND topic IN (%s)
			ORDER BY created_at ASC
		`, placeholders)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*Event

	for rows.Next() {
		var event Event
		var payloadJSON string

		err := rows.Scan(&event.ID, &event.Topic, &payloadJSON, &event.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}

		if err := json.Unmarshal([]byte(payloadJSON), &event.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}

		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return events, nil
}

// MarkDelivered stamps an event with its delivery time
func (s *SQLiteStore) MarkDelivered(eventID string) error {
	result, err := s.db.Exec(`UPDATE events SET delivered_at = ? WHERE id = ?`, time.Now(), eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event as delivered: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("event not found: %s", eventID)
	}

	return nil
}

// Cleanup deletes delivered events older than the specified duration
func (s *SQLiteStore) Cleanup(olderThan time.Duration) error {
	cutoffTime := time.Now().Add(-olderThan)

	_, err := s.db.Exec(`DELETE FROM events WHERE delivered_at IS NOT NULL AND created_at < ?`, cutoffTime)
	if err != nil {
		return fmt.Errorf("failed to cleanup old events: %w", err)
	}

	return nil
}

// Close releases the underlying database handle
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
