package locker

import (
	"context"
	"sync"
	"time"
)

// Local 单进程按 key 加锁，key 用完即回收
type Local struct {
	opt Options

	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocal(opt Options) *Local {
	return &Local{opt: opt.withDefaults(), slots: make(map[string]*slot, 256)}
}

func (l *Local) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	s := l.acquireSlot(key)
	defer l.releaseSlot(key)

	if !l.lock(ctx, s) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return conflict(key)
	}
	defer func() { <-s.ch }()
	return fn(ctx)
}

func (l *Local) lock(ctx context.Context, s *slot) bool {
	for i := 0; i < l.opt.RetryTimes; i++ {
		select {
		case s.ch <- struct{}{}:
			return true
		default:
		}
		select {
		case <-ctx.Done():
			return false
		case s.ch <- struct{}{}:
			return true
		case <-time.After(l.opt.RetryInterval):
		}
	}
	return false
}

func (l *Local) acquireSlot(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *Local) releaseSlot(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.slots[key]
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
