package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/core-tools/hsu-panel/pkg/errors"
)

// nameLocks hands out one mutual-exclusion token per instance name. Waiting
// for a token honours the caller's context.
type nameLocks struct {
	locks map[string]*nameLock
	mutex sync.Mutex
}

type nameLock struct {
	token chan struct{}
	refs  int
}

func newNameLocks() *nameLocks {
	return &nameLocks{locks: make(map[string]*nameLock)}
}

func (l *nameLocks) acquire(ctx context.Context, name string) (func(), error) {
	l.mutex.Lock()
	lock, ok := l.locks[name]
	if !ok {
		lock = &nameLock{token: make(chan struct{}, 1)}
		l.locks[name] = lock
	}
	lock.refs++
	l.mutex.Unlock()

	select {
	case lock.token <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-lock.token
				l.put(name, lock)
			})
		}, nil
	case <-ctx.Done():
		l.put(name, lock)
		return nil, errors.NewCancelledError(fmt.Sprintf("gave up waiting for server '%s'", name), ctx.Err()).WithContext("name", name)
	}
}

func (l *nameLocks) put(name string, lock *nameLock) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, name)
	}
}

func (l *nameLocks) size() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.locks)
}
