package ledger

import (
	"sync"

	"github.com/google/uuid"
)

// loanLocks hands out one mutex per loan id so that read-modify-write
// operations on the same loan run one at a time. Entries are dropped once no
// goroutine holds or waits on them.
type loanLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*loanLock
}

type loanLock struct {
	mu   sync.Mutex
	refs int
}

func newLoanLocks() *loanLocks {
	return &loanLocks{locks: make(map[uuid.UUID]*loanLock)}
}

// lock blocks until the caller owns id and returns the matching unlock.
func (l *loanLocks) lock(id uuid.UUID) func() {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &loanLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
