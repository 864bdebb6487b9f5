// Package sqlite is the durable tokenstore.Store. Every process of one user
// opens the same database file; changes made by one process reach the
// others through a filesystem watch on the database directory.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/litimahmed/universal-hub/pkg/slogx"
	"github.com/litimahmed/universal-hub/pkg/tokenstore"
)

const (
	// DefaultPollInterval backs up the filesystem watch, which some
	// filesystems (network mounts, some containers) never fire.
	DefaultPollInterval = 10 * time.Second

	settleDelay = 25 * time.Millisecond
)

type Options struct {
	// PollInterval between full re-reads. Zero selects DefaultPollInterval,
	// negative disables polling.
	PollInterval time.Duration

	Logger *slog.Logger
}

// Store implements tokenstore.Store on a SQLite file.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	obs    tokenstore.Observers

	// mu serialises writes with snapshot diffs so a handle never reports its
	// own writes back to itself.
	mu       sync.Mutex
	snapshot map[tokenstore.Key]string

	watcher   *fsnotify.Watcher
	poll      time.Duration
	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// Open opens (creating if needed) the token database at path, applies the
// schema and starts watching for changes made by other processes.
func Open(path string, opts Options) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("tokenstore/sqlite: create dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("tokenstore/sqlite: open: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tokenstore/sqlite: migrate: %w", err)
	}

	s := &Store{
		db:     db,
		path:   path,
		logger: opts.Logger,
		poll:   opts.PollInterval,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	if s.logger == nil {
		s.logger = slogx.Discard()
	}
	if s.poll == 0 {
		s.poll = DefaultPollInterval
	}

	s.snapshot, err = s.readAll(context.Background())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tokenstore/sqlite: load: %w", err)
	}

	if w, err := fsnotify.NewWatcher(); err != nil {
		s.logger.Warn("token store watch unavailable, polling only", "error", err)
	} else if err := w.Add(filepath.Dir(path)); err != nil {
		s.logger.Warn("token store watch unavailable, polling only", "error", err)
		_ = w.Close()
	} else {
		s.watcher = w
	}

	go s.run()
	return s, nil
}

func (s *Store) Get(ctx context.Context, key tokenstore.Key) (string, error) {
	if !key.Valid() {
		return "", fmt.Errorf("%w: %q", tokenstore.ErrUnknownKey, key)
	}
	if s.closed() {
		return "", tokenstore.ErrClosed
	}

	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM token_slots WHERE name = ?`, string(key)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", tokenstore.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("tokenstore/sqlite: get %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, key tokenstore.Key, value string) error {
	return s.write(ctx, key, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO token_slots (name, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			string(key), value, time.Now().UnixMilli())
		if err == nil {
			s.snapshot[key] = value
		}
		return err
	})
}

func (s *Store) Remove(ctx context.Context, key tokenstore.Key) error {
	return s.write(ctx, key, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM token_slots WHERE name = ?`, string(key))
		if err == nil {
			delete(s.snapshot, key)
		}
		return err
	})
}

func (s *Store) Subscribe(fn func(tokenstore.Change)) func() { return s.obs.Add(fn) }

// Close stops the watcher and closes the database. It is safe to call twice.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
		if s.watcher != nil {
			_ = s.watcher.Close()
		}
		err = s.db.Close()
	})
	return err
}

func (s *Store) write(ctx context.Context, key tokenstore.Key, fn func() error) error {
	if !key.Valid() {
		return fmt.Errorf("%w: %q", tokenstore.ErrUnknownKey, key)
	}
	if s.closed() {
		return tokenstore.ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(); err != nil {
		return fmt.Errorf("tokenstore/sqlite: write %s: %w", key, err)
	}
	return nil
}

func (s *Store) closed() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func (s *Store) readAll(ctx context.Context) (map[tokenstore.Key]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM token_slots`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[tokenstore.Key]string, len(tokenstore.Keys))
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		out[tokenstore.Key(name)] = value
	}
	return out, rows.Err()
}

// run waits for filesystem events or the poll tick and re-syncs. Bursts of
// events (WAL, shm and main file) are coalesced by settleDelay.
func (s *Store) run() {
	defer close(s.doneCh)

	var events <-chan fsnotify.Event
	var errs <-chan error
	if s.watcher != nil {
		events, errs = s.watcher.Events, s.watcher.Errors
	}

	var tick <-chan time.Time
	if s.poll > 0 {
		t := time.NewTicker(s.poll)
		defer t.Stop()
		tick = t.C
	}

	settle := time.NewTimer(settleDelay)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if s.relevant(ev) {
				settle.Reset(settleDelay)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.logger.Warn("token store watch error", "error", err)
		case <-settle.C:
			s.sync()
		case <-tick:
			s.sync()
		}
	}
}

func (s *Store) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return false
	}
	return strings.HasPrefix(filepath.Base(ev.Name), filepath.Base(s.path))
}

// sync diffs the database against the last known snapshot and reports every
// slot another process changed.
func (s *Store) sync() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.mu.Lock()
	current, err := s.readAll(ctx)
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("token store resync failed", "error", err)
		return
	}
	changes := diff(s.snapshot, current)
	s.snapshot = current
	s.mu.Unlock()

	for _, c := range changes {
		s.logger.Debug("token slot changed elsewhere", "key", string(c.Key), "removed", c.Removed)
		s.obs.Notify(c)
	}
}

func diff(before, after map[tokenstore.Key]string) []tokenstore.Change {
	var out []tokenstore.Change
	for _, k := range tokenstore.Keys {
		old, had := before[k]
		cur, has := after[k]
		switch {
		case has && (!had || old != cur):
			out = append(out, tokenstore.Change{Key: k, Value: cur})
		case had && !has:
			out = append(out, tokenstore.Change{Key: k, Removed: true})
		}
	}
	return out
}
