package rendezvous

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by Fetch while a key has not been published yet.
var ErrNotFound = errors.New("rendezvous key not found")

// Store is the shared key-value registry all roles meet in. Publish
// overwrites, Fetch never blocks.
type Store interface {
	Publish(ctx context.Context, key string, value []byte) error
	Fetch(ctx context.Context, key string) ([]byte, error)
	Close() error
}

// notifier is implemented by stores that can wake waiters on publish.
type notifier interface {
	Changed() <-chan struct{}
}

// Open creates the store named by backend. address is the memcached server
// list (comma separated) or the sqlite database path.
func Open(backend, address string) (Store, error) {
	switch strings.ToLower(backend) {
	case "memory", "":
		return NewMemoryStore(), nil
	case "memcached":
		return NewMemcachedStore(strings.Split(address, ",")...)
	case "sqlite":
		return OpenSQLiteStore(address)
	default:
		return nil, fmt.Errorf("unknown rendezvous backend %q", backend)
	}
}

// MemoryStore serves roles running inside one process.
type MemoryStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	changed chan struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte), changed: make(chan struct{})}
}

func (s *MemoryStore) Publish(_ context.Context, key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	s.mu.Lock()
	s.data[key] = v
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Fetch(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *MemoryStore) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

func (s *MemoryStore) Close() error { return nil }

// MemcachedStore uses a memcached server as the registry.
type MemcachedStore struct {
	client *memcache.Client
}

func NewMemcachedStore(servers ...string) (*MemcachedStore, error) {
	if len(servers) == 0 || servers[0] == "" {
		return nil, errors.New("no memcached servers configured")
	}
	client := memcache.New(servers...)
	client.Timeout = 2 * time.Second
	if err := client.Ping(); err != nil {
		return nil, fmt.Errorf("memcached at %s unreachable: %w", strings.Join(servers, ","), err)
	}
	return &MemcachedStore{client: client}, nil
}

func (s *MemcachedStore) Publish(_ context.Context, key string, value []byte) error {
	if err := s.client.Set(&memcache.Item{Key: key, Value: value}); err != nil {
		return fmt.Errorf("memcached set %s: %w", key, err)
	}
	return nil
}

func (s *MemcachedStore) Fetch(_ context.Context, key string) ([]byte, error) {
	item, err := s.client.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("memcached get %s: %w", key, err)
	}
	return item.Value, nil
}

func (s *MemcachedStore) Close() error { return nil }

// SQLiteStore keeps the registry in a database file on shared storage.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite rendezvous needs a database path")
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS rendezvous (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create rendezvous table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Publish(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rendezvous (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("sqlite publish %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM rendezvous WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite fetch %s: %w", key, err)
	}
	return v, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
