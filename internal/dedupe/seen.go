// ABOUTME: Thread-safe TTL seen-set with a size cap and oldest-first eviction
// ABOUTME: Expired keys are pruned from the front of the insertion list on every mark

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry[K comparable] struct {
	key    K
	marked time.Time
}

// Seen records keys for a TTL window. The list is kept in mark order, which
// is also timestamp order, so expiry and eviction both pop from the front.
type Seen[K comparable] struct {
	mu      sync.Mutex
	index   map[K]*list.Element
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// Option configures a Seen
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a seen-set. maxSize <= 0 means unbounded.
func New[K comparable](ttl time.Duration, maxSize int, opts ...Option) *Seen[K] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Seen[K]{
		index:   make(map[K]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     o.now,
	}
}

// Check reports whether key was marked within the TTL.
func (s *Seen[K]) Check(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveLocked(key, s.now())
}

// Mark records key, refreshing its timestamp if it is already present.
func (s *Seen[K]) Mark(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markLocked(key, s.now())
}

// CheckAndMark marks key and reports whether it was already live.
// A true result means the caller is looking at a duplicate.
func (s *Seen[K]) CheckAndMark(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.liveLocked(key, now) {
		return true
	}
	s.markLocked(key, now)
	return false
}

// Len returns the number of keys held, expired or not.
func (s *Seen[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

func (s *Seen[K]) liveLocked(key K, now time.Time) bool {
	el, ok := s.index[key]
	if !ok {
		return false
	}
	return now.Sub(el.Value.(*entry[K]).marked) < s.ttl
}

func (s *Seen[K]) markLocked(key K, now time.Time) {
	s.pruneLocked(now)

	if el, ok := s.index[key]; ok {
		el.Value.(*entry[K]).marked = now
		s.order.MoveToBack(el)
		return
	}

	if s.maxSize > 0 && s.order.Len() >= s.maxSize {
		s.removeLocked(s.order.Front())
	}
	s.index[key] = s.order.PushBack(&entry[K]{key: key, marked: now})
}

// pruneLocked drops expired keys from the front of the list
func (s *Seen[K]) pruneLocked(now time.Time) {
	for el := s.order.Front(); el != nil; el = s.order.Front() {
		if now.Sub(el.Value.(*entry[K]).marked) < s.ttl {
			return
		}
		s.removeLocked(el)
	}
}

func (s *Seen[K]) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	s.order.Remove(el)
	delete(s.index, el.Value.(*entry[K]).key)
}
