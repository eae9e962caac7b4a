package httpcache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	lru "github.com/hashicorp/golang-lru/v2"
)

// NewStore builds the store named by kind: "lru", "ristretto" or "none".
// "none" returns a nil Store, which disables caching.
func NewStore(kind string, maxEntries int) (Store, error) {
	switch kind {
	case "", "none":
		return nil, nil
	case "lru":
		return NewLRUStore(maxEntries)
	case "ristretto":
		return NewRistrettoStore(maxEntries)
	default:
		return nil, fmt.Errorf("unknown cache store %q", kind)
	}
}

// LRUStore keeps at most a fixed number of entries, evicting the least
// recently used. Expiry is checked by Transport on lookup.
type LRUStore struct {
	lru *lru.Cache[string, *Entry]
}

func NewLRUStore(maxEntries int) (*LRUStore, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("lru store needs a positive size, got %d", maxEntries)
	}
	cache, err := lru.New[string, *Entry](maxEntries)
	if err != nil {
		return nil, err
	}
	return &LRUStore{lru: cache}, nil
}

func (s *LRUStore) Get(key string) (*Entry, bool) {
	return s.lru.Get(key)
}

func (s *LRUStore) Set(key string, e *Entry, _ time.Duration) {
	s.lru.Add(key, e)
}

func (s *LRUStore) Len() int {
	return s.lru.Len()
}

// RistrettoStore is an admission-controlled store with native TTLs.
type RistrettoStore struct {
	cache *ristretto.Cache
}

func NewRistrettoStore(maxEntries int) (*RistrettoStore, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("ristretto store needs a positive size, got %d", maxEntries)
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(max(maxEntries*10, 10)),
		MaxCost:     int64(maxEntries),
		BufferItems: 64,
		Cost: func(value interface{}) int64 {
			return 1
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init cache: %w", err)
	}
	return &RistrettoStore{cache: cache}, nil
}

func (s *RistrettoStore) Get(key string) (*Entry, bool) {
	raw, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	e, ok := raw.(*Entry)
	return e, ok
}

func (s *RistrettoStore) Set(key string, e *Entry, ttl time.Duration) {
	s.cache.SetWithTTL(key, e, 1, ttl)
	// sets are buffered; make this one visible to the next lookup
	s.cache.Wait()
}

func (s *RistrettoStore) Close() {
	s.cache.Close()
}
