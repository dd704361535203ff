// Package notes persists finalized transcripts across runs.
//
// The store is an embedded BadgerDB keyed by session and capture time:
//
//	note/<session-uuid>/<start, 8-byte big-endian nanoseconds>
//
// Big-endian start times make Badger's byte-ordered iteration return records
// in capture order with no sort step. Each run gets a fresh UUID session
// unless one is supplied, so notes from different runs never interleave.
//
// Appends come from the pipeline writer loop in Transcribe and NoteTaking
// modes. The segmenter emits segments with strictly increasing start
// positions, so keys within a session never collide.
package notes

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/vocantra/vocantra/pkg/audio"
)

// keyPrefix namespaces note records inside the database.
const keyPrefix = "note/"

// record is the stored form of one transcript. Durations marshal as
// nanoseconds, which keeps the value self-describing without a schema.
type record struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Text  string        `json:"text"`
}

// Store is an append-only transcript sink backed by BadgerDB.
// Safe for concurrent use.
type Store struct {
	db      *badger.DB
	session string
}

// config holds optional configuration for Open.
type config struct {
	inMemory bool
	session  string
	log      *slog.Logger
}

// Option is a functional option for Open.
type Option func(*config)

// WithInMemory runs the database in memory-only mode with no disk
// persistence. Intended for tests that want a real badger engine.
func WithInMemory() Option {
	return func(c *config) {
		c.inMemory = true
	}
}

// WithSessionID fixes the session identifier instead of generating a fresh
// UUID, so a run can append to an earlier session.
func WithSessionID(id string) Option {
	return func(c *config) {
		c.session = id
	}
}

// WithLogger routes badger's internal logging through the given slog logger.
// Without it, badger error and warning output goes to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(c *config) {
		c.log = log
	}
}

// Open opens (or creates) the note database in dir and starts a new session.
func Open(dir string, opts ...Option) (*Store, error) {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	if !cfg.inMemory && dir == "" {
		return nil, errors.New("notes: dir is required for on-disk mode")
	}
	if cfg.session == "" {
		cfg.session = uuid.NewString()
	}
	if cfg.log == nil {
		cfg.log = slog.Default()
	}

	dbOpts := badger.DefaultOptions(dir)
	if cfg.inMemory {
		dbOpts = dbOpts.WithInMemory(true)
		dbOpts.Dir = ""
		dbOpts.ValueDir = ""
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{log: cfg.log})

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("notes: open database: %w", err)
	}
	return &Store{db: db, session: cfg.session}, nil
}

// SessionID returns the identifier under which this store appends.
func (s *Store) SessionID() string {
	return s.session
}

// Append stores one transcript under the current session, keyed by its
// capture-time start.
func (s *Store) Append(t audio.Transcript) error {
	val, err := json.Marshal(record{Start: t.Start, End: t.End, Text: t.Text})
	if err != nil {
		return fmt.Errorf("notes: encode record: %w", err)
	}
	key := noteKey(s.session, t.Start)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
	if err != nil {
		return fmt.Errorf("notes: append: %w", err)
	}
	return nil
}

// Lines returns the current session's transcripts rendered as
// "[start-end] text" lines in capture order.
func (s *Store) Lines() ([]string, error) {
	return s.SessionLines(s.session)
}

// SessionLines returns the rendered lines of an arbitrary session in capture
// order. An unknown session yields no lines and no error.
func (s *Store) SessionLines(session string) ([]string, error) {
	prefix := []byte(keyPrefix + session + "/")

	var lines []string
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("decode %q: %w", it.Item().Key(), err)
			}
			t := audio.Transcript{Start: rec.Start, End: rec.End, Text: rec.Text}
			lines = append(lines, t.Line())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("notes: read session %s: %w", session, err)
	}
	return lines, nil
}

// Sessions returns the identifiers of every session present in the database,
// in key order.
func (s *Store) Sessions() ([]string, error) {
	prefix := []byte(keyPrefix)

	var sessions []string
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			rest := strings.TrimPrefix(key, keyPrefix)
			id, _, ok := strings.Cut(rest, "/")
			if !ok {
				continue
			}
			// Keys are sorted, so duplicates are always adjacent.
			if len(sessions) == 0 || sessions[len(sessions)-1] != id {
				sessions = append(sessions, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("notes: list sessions: %w", err)
	}
	return sessions, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// noteKey builds the storage key for one record.
func noteKey(session string, start time.Duration) []byte {
	k := make([]byte, 0, len(keyPrefix)+len(session)+1+8)
	k = append(k, keyPrefix...)
	k = append(k, session...)
	k = append(k, '/')
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(start))
	return append(k, ts[:]...)
}

// badgerLogger adapts slog to badger's logger interface, dropping info and
// debug chatter.
type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(f string, v ...interface{}) {
	l.log.Error("badger: " + strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (l badgerLogger) Warningf(f string, v ...interface{}) {
	l.log.Warn("badger: " + strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (l badgerLogger) Infof(string, ...interface{}) {}

func (l badgerLogger) Debugf(string, ...interface{}) {}
