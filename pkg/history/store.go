package history

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/core-tools/hsu-panel/pkg/broadcast"
	"github.com/core-tools/hsu-panel/pkg/errors"
	"github.com/core-tools/hsu-panel/pkg/logging"
)

const (
	DefaultQueueSize = 256
	DefaultLimit     = 50
	MaxLimit         = 1000

	driverName = "sqlite3"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS lifecycle_event_v1 (
	seq INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
	id TEXT NOT NULL UNIQUE,
	type TEXT NOT NULL,
	instance TEXT NOT NULL DEFAULT '',
	detail TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMP NOT NULL
);
`

const insertEventV1Sql = `
INSERT INTO lifecycle_event_v1 (id, type, instance, detail, occurred_at)
VALUES ($1, $2, $3, $4, $5);
`

const recentEventsV1Sql = `
SELECT id, type, instance, detail, occurred_at
FROM lifecycle_event_v1
ORDER BY seq DESC
LIMIT $1;
`

type Config struct {
	// Path of the SQLite database file; ":memory:" keeps history in memory
	Path      string `yaml:"path,omitempty"`
	QueueSize int    `yaml:"queue_size,omitempty"`
}

// Entry is one persisted lifecycle event
type Entry struct {
	ID         string    `db:"id" json:"id"`
	Type       string    `db:"type" json:"type"`
	Instance   string    `db:"instance" json:"instance,omitempty"`
	Detail     string    `db:"detail" json:"detail,omitempty"`
	OccurredAt time.Time `db:"occurred_at" json:"occurred_at"`
}

// Store records lifecycle events in SQLite. As an observer it only queues;
// a single writer goroutine does the inserts so publishers never wait on disk.
type Store struct {
	db     *sqlx.DB
	queue  *broadcast.ChannelObserver
	logger logging.Logger
	now    func() time.Time

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func Open(config Config, logger logging.Logger) (*Store, error) {
	if config.Path == "" {
		return nil, errors.NewValidationError("history path is required", nil)
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}

	db, err := sqlx.Connect(driverName, config.Path)
	if err != nil {
		return nil, errors.NewIOError("failed to open history database", err).WithContext("path", config.Path)
	}
	// One connection so ":memory:" is a single database and writes never contend
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, errors.NewIOError("failed to initialize history schema", err).WithContext("path", config.Path)
	}

	s := &Store{
		db:     db,
		queue:  broadcast.NewChannelObserver(config.QueueSize),
		logger: logger,
		now:    time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run()

	logger.Infof("History store opened, path: %s", config.Path)
	return s, nil
}

// Recordable reports whether the store keeps the event. Console output is
// left out apart from system lines such as exit codes.
func Recordable(event broadcast.Event) bool {
	if event.IsLifecycle() {
		return true
	}
	return event.Type == broadcast.EventOutputChunk && event.Stream == broadcast.StreamSystem
}

func (s *Store) Notify(event broadcast.Event) {
	if !Recordable(event) {
		return
	}
	s.queue.Notify(event)
}

// Dropped is the number of events lost because the writer fell behind
func (s *Store) Dropped() int64 {
	return s.queue.Dropped()
}

// Record persists one event synchronously
func (s *Store) Record(ctx context.Context, event broadcast.Event) (*Entry, error) {
	entry := &Entry{
		ID:         uuid.NewString(),
		Type:       string(event.Type),
		Instance:   event.Instance,
		Detail:     detailOf(event),
		OccurredAt: s.now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, insertEventV1Sql, entry.ID, entry.Type, entry.Instance, entry.Detail, entry.OccurredAt)
	if err != nil {
		return nil, errors.NewIOError("failed to record history event", err).WithContext("type", entry.Type)
	}
	return entry, nil
}

// Recent returns up to limit entries, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	entries := []Entry{}
	if err := s.db.SelectContext(ctx, &entries, recentEventsV1Sql, limit); err != nil {
		return nil, errors.NewIOError("failed to read history", err)
	}
	return entries, nil
}

// Close flushes queued events and closes the database
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
		if closeErr := s.db.Close(); closeErr != nil {
			err = errors.NewIOError("failed to close history database", closeErr)
		}
	})
	return err
}

func (s *Store) run() {
	defer close(s.done)

	for {
		select {
		case event := <-s.queue.Events():
			s.write(event)
		case <-s.stop:
			for {
				select {
				case event := <-s.queue.Events():
					s.write(event)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) write(event broadcast.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.Record(ctx, event); err != nil {
		s.logger.Errorf("Failed to record history event, type: %s, error: %v", event.Type, err)
	}
}

func detailOf(event broadcast.Event) string {
	if event.Type == broadcast.EventInstanceListChanged {
		return strings.Join(event.Instances, ",")
	}
	return event.Text
}
