package executor

import (
	"sync"
)

// KeyedLock provides per-(tenant, rule) mutual exclusion. Acquisition is
// non-blocking: a second acquire for the same key fails until the first
// holder releases.
type KeyedLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewKeyedLock() *KeyedLock {
	return &KeyedLock{
		held: make(map[string]struct{}),
	}
}

func (l *KeyedLock) TryAcquire(tenantID, ruleID string) (release func(), ok bool) {
	key := tenantID + "/" + ruleID

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.held[key]; exists {
		return nil, false
	}

	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, true
}

// Held reports whether an execution currently holds the lock for the key.
func (l *KeyedLock) Held(tenantID, ruleID string) bool {
	key := tenantID + "/" + ruleID

	l.mu.Lock()
	defer l.mu.Unlock()

	_, exists := l.held[key]
	return exists
}
