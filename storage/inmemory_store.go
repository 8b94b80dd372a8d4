package storage

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/btree"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DefaultMaxBytes is the total size of values a store holds before it
// starts evicting.
const DefaultMaxBytes = 1000000 * 128

type entry struct {
	key   string
	value []byte
	seq   uint64
}

// Less orders entries by insertion.
func (e *entry) Less(than btree.Item) bool {
	return e.seq < than.(*entry).seq
}

// InmemoryStore keeps values in memory, evicting the oldest keys once the
// total size of all values would exceed its limit. Setting an existing key
// makes it the newest.
type InmemoryStore struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	order     *btree.BTree
	seq       uint64
	bytes     int
	maxBytes  int
	evictions uint64

	// stop willl be closed when Close() is called
	stop chan struct{}
}

func NewInmemoryStore(maxBytes int) *InmemoryStore {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	return &InmemoryStore{
		entries:  make(map[string]*entry),
		order:    btree.New(32),
		maxBytes: maxBytes,
		stop:     make(chan struct{}),
	}
}

func (i *InmemoryStore) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.isRunning() {
		close(i.stop)
	}

	return nil
}

func (i *InmemoryStore) Set(ctx context.Context, key string, value []byte) error {
	if !i.isRunning() {
		return ErrClosed
	}

	if len(value) > i.maxBytes {
		return fmt.Errorf("%d bytes: %w", len(value), ErrValueTooLarge)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.set(key, value)
	return nil
}

// set must be called with mu held.
func (i *InmemoryStore) set(key string, value []byte) {
	if old, ok := i.entries[key]; ok {
		i.remove(old)
	}

	for i.bytes+len(value) > i.maxBytes && i.order.Len() > 0 {
		oldest := i.order.Min().(*entry)
		i.remove(oldest)
		i.evictions++
	}

	i.seq++
	e := &entry{key: key, value: value, seq: i.seq}

	i.entries[key] = e
	i.order.ReplaceOrInsert(e)
	i.bytes += len(value)
}

// remove must be called with mu held.
func (i *InmemoryStore) remove(e *entry) {
	i.order.Delete(e)
	delete(i.entries, e.key)
	i.bytes -= len(e.value)
}

func (i *InmemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	e, ok := i.entries[key]
	if !ok {
		return nil, ErrNotFound
	}

	return e.value, nil
}

func (i *InmemoryStore) Stats() Stats {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return Stats{
		Keys:      len(i.entries),
		Bytes:     i.bytes,
		MaxBytes:  i.maxBytes,
		Evictions: i.evictions,
	}
}

func (i *InmemoryStore) MaxValueSize() int {
	return i.maxBytes
}

// Backup returns the store as a JSON array of {"key","value"} objects,
// oldest first.
func (i *InmemoryStore) Backup() ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	var (
		snapshot = []byte("[]")
		n        int
		err      error
	)

	i.order.Ascend(func(item btree.Item) bool {
		e := item.(*entry)
		prefix := strconv.Itoa(n)

		if snapshot, err = sjson.SetBytes(snapshot, prefix+".key", e.key); err != nil {
			return false
		}

		if snapshot, err = sjson.SetBytes(snapshot, prefix+".value", string(e.value)); err != nil {
			return false
		}

		n++
		return true
	})

	if err != nil {
		return nil, fmt.Errorf("Failed to encode snapshot: %w", err)
	}

	return snapshot, nil
}

// Restore replaces the contents of the store with a snapshot produced by
// Backup. Eviction applies as the snapshot is loaded.
func (i *InmemoryStore) Restore(snapshot []byte) error {
	if !gjson.ValidBytes(snapshot) {
		return fmt.Errorf("Failed to restore: snapshot is not valid JSON")
	}

	parsed := gjson.ParseBytes(snapshot)
	if !parsed.IsArray() {
		return fmt.Errorf("Failed to restore: snapshot is not a JSON array")
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.entries = make(map[string]*entry)
	i.order = btree.New(32)
	i.bytes = 0

	var err error
	parsed.ForEach(func(_, item gjson.Result) bool {
		key := item.Get("key")
		if key.Type != gjson.String || key.String() == "" {
			err = fmt.Errorf("Failed to restore: entry %s has no key", item.Raw)
			return false
		}

		value := []byte(item.Get("value").String())
		if len(value) > i.maxBytes {
			err = fmt.Errorf("Failed to restore '%s': %w", key.String(), ErrValueTooLarge)
			return false
		}

		i.set(key.String(), value)
		return true
	})

	return err
}

// isRunning returns true if Close has not been called
func (i *InmemoryStore) isRunning() bool {
	select {
	case <-i.stop:
		return false

	default:
		return true
	}
}

var _ Store = (*InmemoryStore)(nil)
