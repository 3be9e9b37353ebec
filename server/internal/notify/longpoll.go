package notify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type PollStatus int

const (
	// Modified 对应 200：返回快照与新的 ETag。
	Modified PollStatus = iota
	// NotModified 对应 304：客户端已是最新，或等待超时。
	NotModified
)

func (s PollStatus) String() string {
	switch s {
	case Modified:
		return "modified"
	case NotModified:
		return "not_modified"
	default:
		return fmt.Sprintf("PollStatus(%d)", int(s))
	}
}

// PollRequest 是一次条件读取。
type PollRequest struct {
	// Known 是客户端上次看到的版本（If-None-Match），nil 表示从未见过。
	Known *Version
	// Wait 是客户端愿意等待的时长（Prefer: wait=N），<=0 表示不等待。
	Wait time.Duration
}

type PollResult struct {
	Status   PollStatus
	Snapshot Snapshot
}

// Poll 实现长轮询：
// - 版本不同或未知：立即返回当前快照。
// - 版本相同且不等待：立即 NotModified。
// - 版本相同且愿意等待：挂起，直到广播唤醒（Modified）或超时（NotModified）。
//
// 超时、广播、客户端断开、Close 之间由“谁从 registry 摘走 waiter”裁决，
// 结果只会产生一次。Close 摘走的 waiter 按 NotModified 返回。
func (b *Broadcaster) Poll(ctx context.Context, req PollRequest) (PollResult, error) {
	b.mu.Lock()
	current := b.version

	if req.Known == nil || *req.Known != current {
		b.mu.Unlock()
		snap, err := b.Current(ctx)
		if err != nil {
			return PollResult{}, err
		}
		return PollResult{Status: Modified, Snapshot: snap}, nil
	}

	// 已关闭时不再挂起，直接按超时处理
	if req.Wait <= 0 || b.closed {
		b.mu.Unlock()
		return PollResult{Status: NotModified, Snapshot: Snapshot{Version: current}}, nil
	}

	w := b.waiters.park(b.now())
	b.mu.Unlock()

	timer := time.NewTimer(req.Wait)
	defer timer.Stop()

	select {
	case snap := <-w.ch:
		return resolved(snap)

	case <-timer.C:
		if b.cancelWaiter(w) {
			return PollResult{Status: NotModified, Snapshot: Snapshot{Version: current}}, nil
		}
		// 超时与广播同时发生，广播已经摘走 waiter，以广播结果为准。
		return resolved(<-w.ch)

	case <-ctx.Done():
		if !b.cancelWaiter(w) {
			<-w.ch
		}
		return PollResult{}, ctx.Err()
	}
}

func (b *Broadcaster) cancelWaiter(w *waiter) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.waiters.remove(w)
}

func resolved(snap Snapshot) (PollResult, error) {
	if errors.Is(snap.Err, ErrClosed) {
		return PollResult{Status: NotModified, Snapshot: Snapshot{Version: snap.Version}}, nil
	}
	if snap.Err != nil {
		return PollResult{}, fmt.Errorf("load snapshot: %w", snap.Err)
	}
	return PollResult{Status: Modified, Snapshot: snap}, nil
}
