package trace

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
)

// DefaultBatchSize is the number of events buffered before a flush.
const DefaultBatchSize = 4096

// Event is one coordinator decision.
type Event struct {
	RequestID string
	Kind      string
	From      int
	Key       int
	Block     int
	// Source is the supplier named in the reply, -1 if none was sent.
	Source   int
	Mode     string
	Epoch    int64
	Outbound int
	Err      string
}

// Recorder consumes protocol events.
type Recorder interface {
	Record(Event)
	Flush() error
	Close() error
}

// Nop discards every event.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(Event) {}

// Flush implements Recorder.
func (Nop) Flush() error { return nil }

// Close implements Recorder.
func (Nop) Close() error { return nil }

const createTableSQL = `CREATE TABLE IF NOT EXISTS protocol_events (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT,
	kind TEXT,
	from_rank INTEGER,
	key INTEGER,
	block INTEGER,
	source INTEGER,
	mode TEXT,
	epoch INTEGER,
	outbound INTEGER,
	err TEXT
);`

const insertSQL = `INSERT INTO protocol_events
	(request_id, kind, from_rank, key, block, source, mode, epoch, outbound, err)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// SQLite writes events into a SQLite database file.
type SQLite struct {
	mu        sync.Mutex
	db        *sql.DB
	path      string
	batchSize int
	pending   []Event
	written   int
}

// NewSQLite creates the database at path (".sqlite3" is appended when
// missing). An empty path picks a unique name. An existing file is never
// overwritten.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = "dsm_trace_" + xid.New().String()
	}
	if !strings.HasSuffix(path, ".sqlite3") {
		path += ".sqlite3"
	}
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("trace file %s already exists", path)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace db: %w", err)
	}
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create trace table: %w", err)
	}

	log.Printf("Trace database created: %s", path)
	return &SQLite{
		db:        db,
		path:      path,
		batchSize: DefaultBatchSize,
	}, nil
}

// Path returns the database file name.
func (s *SQLite) Path() string {
	return s.path
}

// SetBatchSize changes the number of events buffered before a flush.
func (s *SQLite) SetBatchSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.batchSize = n
	}
}

// Record buffers ev and flushes when the batch is full.
func (s *SQLite) Record(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, ev)
	if len(s.pending) >= s.batchSize {
		if err := s.flushLocked(); err != nil {
			log.Printf("Trace flush failed: %v", err)
		}
	}
}

// Flush writes every buffered event.
func (s *SQLite) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

// Written returns the number of events committed so far.
func (s *SQLite) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

func (s *SQLite) flushLocked() error {
	if len(s.pending) == 0 || s.db == nil {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.Prepare(insertSQL)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, ev := range s.pending {
		if _, err := stmt.Exec(ev.RequestID, ev.Kind, ev.From, ev.Key, ev.Block,
			ev.Source, ev.Mode, ev.Epoch, ev.Outbound, ev.Err); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.written += len(s.pending)
	s.pending = nil
	return nil
}

// Close flushes and closes the database. Close is idempotent.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	flushErr := s.flushLocked()
	closeErr := s.db.Close()
	s.db = nil
	return errors.Join(flushErr, closeErr)
}
