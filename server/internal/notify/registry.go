package notify

import "time"

// waiter 是一个挂起的长轮询请求。
// ch 容量为 1 且只会被写一次：谁先把 waiter 从 registry 中摘掉，谁负责结果。
type waiter struct {
	id       uint64
	parkedAt time.Time
	ch       chan Snapshot
}

// waiterRegistry 按 FIFO 保存挂起的 waiter。
// 自身不加锁，所有调用都必须持有 Broadcaster.mu。
type waiterRegistry struct {
	nextID  uint64
	waiters []*waiter
}

func (r *waiterRegistry) park(now time.Time) *waiter {
	r.nextID++
	w := &waiter{
		id:       r.nextID,
		parkedAt: now,
		ch:       make(chan Snapshot, 1),
	}
	r.waiters = append(r.waiters, w)
	return w
}

// remove 返回 false 表示 waiter 已经被广播摘走，结果会从 ch 送达。
func (r *waiterRegistry) remove(w *waiter) bool {
	for i, candidate := range r.waiters {
		if candidate == w {
			r.waiters = append(r.waiters[:i], r.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// detachAll 先复制再清空，广播在副本上投递，不会边遍历边修改。
func (r *waiterRegistry) detachAll() []*waiter {
	detached := r.waiters
	r.waiters = nil
	return detached
}

// oldest 返回最早挂起的时间；FIFO 保证它是第一个。
func (r *waiterRegistry) oldest() (time.Time, bool) {
	if len(r.waiters) == 0 {
		return time.Time{}, false
	}
	return r.waiters[0].parkedAt, true
}

func (r *waiterRegistry) len() int {
	return len(r.waiters)
}
