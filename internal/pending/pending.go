package pending

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// Registration is a submitted signup exactly as received, held until the
// email verification code comes back. The password stays plaintext here;
// it is hashed only at durable creation.
type Registration struct {
	Name           string
	Surname        string
	Email          string
	Password       string
	ContactDetails string
	Role           string
}

// Store bridges "user submitted a form" and "user is a durable account".
// Take is at-most-once: a second call with the same code misses, even
// under concurrent callers.
type Store interface {
	Put(reg Registration) (string, error)
	Take(code string) (Registration, bool)
}

type entry struct {
	reg       Registration
	expiresAt time.Time
}

// InMemory holds pending registrations process-wide with a TTL so
// abandoned signups do not accumulate forever.
type InMemory struct {
	mu         sync.Mutex
	entries    map[string]entry
	ttl        time.Duration
	sweepEvery time.Duration
	done       chan struct{}
	once       sync.Once
}

func NewInMemory(ttl time.Duration) *InMemory {
	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	return newInMemory(ttl, interval)
}

func newInMemory(ttl, sweepEvery time.Duration) *InMemory {
	s := &InMemory{
		entries:    make(map[string]entry),
		ttl:        ttl,
		sweepEvery: sweepEvery,
		done:       make(chan struct{}),
	}
	go s.janitor()
	return s
}

func (s *InMemory) Put(reg Registration) (string, error) {
	code, err := newCode()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.entries[code] = entry{reg: reg, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()
	return code, nil
}

// Take removes and returns the registration under a single lock hold, so
// concurrent calls with the same code hand it to exactly one caller.
func (s *InMemory) Take(code string) (Registration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[code]
	if !ok {
		return Registration{}, false
	}
	delete(s.entries, code)
	if time.Now().After(e.expiresAt) {
		return Registration{}, false
	}
	return e.reg, true
}

func (s *InMemory) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *InMemory) janitor() {
	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for code, e := range s.entries {
				if now.After(e.expiresAt) {
					delete(s.entries, code)
				}
			}
			s.mu.Unlock()
		}
	}
}

// newCode returns 32 random bytes hex encoded, wide enough that live
// collisions are not checked for.
func newCode() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
