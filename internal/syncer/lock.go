package syncer

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dshills/docsync-mcp/pkg/types"
)

// Lock provides non-blocking lock semantics using atomic operations
type Lock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// TryAcquire attempts to acquire the lock without blocking.
// Returns true if the lock was successfully acquired, false otherwise.
func (l *Lock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock.
// Must only be called by the goroutine that successfully acquired the lock.
func (l *Lock) Release() {
	l.state.Store(0)
}

// Held reports whether the lock is currently acquired
func (l *Lock) Held() bool {
	return l.state.Load() == 1
}

// wholeRepository is the branch key taken by operations spanning every branch
const wholeRepository = "*"

// LockSet hands out one Lock per repository@branch. A repository has one
// catalog entry, so at most one key of a repository is held at a time.
// Entries exist only while held, so nothing outlives the call that acquired
// them.
type LockSet struct {
	mu    sync.Mutex
	locks map[string]*Lock
}

// NewLockSet creates an empty LockSet
func NewLockSet() *LockSet {
	return &LockSet{locks: make(map[string]*Lock)}
}

func lockKey(repositoryID, branch string) string {
	return repositoryID + "@" + branch
}

// TryAcquire takes the lock for one repository branch. It fails with
// *types.SyncInProgressError naming the holder when any branch of the
// repository, or the whole repository, is already locked.
func (s *LockSet) TryAcquire(repositoryID, branch string) (release func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if holder, held := s.heldBranchLocked(repositoryID); held {
		if holder == wholeRepository {
			holder = branch
		}
		return nil, &types.SyncInProgressError{RepositoryID: repositoryID, Branch: holder}
	}
	return s.acquireLocked(lockKey(repositoryID, branch), repositoryID, branch)
}

// TryAcquireRepository takes a lock covering every branch of a repository.
// It fails when any branch is locked.
func (s *LockSet) TryAcquireRepository(repositoryID string) (release func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if branch, held := s.heldBranchLocked(repositoryID); held {
		return nil, &types.SyncInProgressError{RepositoryID: repositoryID, Branch: branch}
	}
	return s.acquireLocked(lockKey(repositoryID, wholeRepository), repositoryID, wholeRepository)
}

func (s *LockSet) acquireLocked(key, repositoryID, branch string) (func(), error) {
	lock, ok := s.locks[key]
	if !ok {
		lock = &Lock{}
		s.locks[key] = lock
	}
	if !lock.TryAcquire() {
		return nil, &types.SyncInProgressError{RepositoryID: repositoryID, Branch: branch}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			lock.Release()
			delete(s.locks, key)
		})
	}, nil
}

// HeldForRepository reports whether any lock of the repository is held and
// returns one branch holding it
func (s *LockSet) HeldForRepository(repositoryID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heldBranchLocked(repositoryID)
}

func (s *LockSet) heldBranchLocked(repositoryID string) (string, bool) {
	prefix := repositoryID + "@"
	for key, lock := range s.locks {
		if strings.HasPrefix(key, prefix) && lock.Held() {
			return strings.TrimPrefix(key, prefix), true
		}
	}
	return "", false
}

// Len returns the number of held locks
func (s *LockSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
