package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"skill-sharing/server/internal/model"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// ErrClosed 表示 Broadcaster 已关闭（进程正在退出），不再接受新的流式订阅。
var ErrClosed = errors.New("broadcaster closed")

// Version 是 Talk 集合的版本号，进程启动时为 0，每次成功修改 +1。
type Version uint64

// Snapshot 是某个版本下的完整 Talk 列表。
// 一次广播只读一次存储，所有接收方共享同一个 Snapshot，接收方不得修改 Talks。
type Snapshot struct {
	Version Version
	Talks   []model.Talk
	// Err 非空表示广播时读取存储失败，此时 Talks 无意义。
	Err error
}

// SnapshotLoader 从存储读取当前完整列表。
type SnapshotLoader func(ctx context.Context) ([]model.Talk, error)

// Stats 是 Broadcaster 当前的挂起情况，用于健康检查与测试。
type Stats struct {
	Version Version `json:"version"`
	Waiters int     `json:"waiters"`
	Streams int     `json:"streams"`
	// OldestWait 是最早挂起的长轮询已经等待的时长，没有 waiter 时为 0。
	OldestWait time.Duration `json:"oldest_wait"`
}

// Broadcaster 持有版本号、长轮询 waiter 和流式订阅。
//
// 职责与契约：
// - 版本号只在 NotifyChanged 中递增，每次恰好 +1。
// - “递增 + 摘走全部 waiter + 投递”在同一把锁内完成，并发读者看到的是一步。
// - 调用方只能在存储写成功之后调用 NotifyChanged。
type Broadcaster struct {
	mu      sync.Mutex
	version Version
	waiters waiterRegistry
	streams map[uuid.UUID]chan Snapshot
	closed  bool

	load   SnapshotLoader
	reads  singleflight.Group
	now    func() time.Time
	logger *log.Logger
}

type Option func(*Broadcaster)

func WithLogger(logger *log.Logger) Option {
	return func(b *Broadcaster) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Broadcaster) {
		if now != nil {
			b.now = now
		}
	}
}

func NewBroadcaster(load SnapshotLoader, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		streams: make(map[uuid.UUID]chan Snapshot),
		load:    load,
		now:     time.Now,
		logger:  log.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Version 返回当前版本号。
func (b *Broadcaster) Version() Version {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version
}

func (b *Broadcaster) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	stats := Stats{
		Version: b.version,
		Waiters: b.waiters.len(),
		Streams: len(b.streams),
	}
	if parkedAt, ok := b.waiters.oldest(); ok {
		stats.OldestWait = b.now().Sub(parkedAt)
	}
	return stats
}

// NotifyChanged 在一次成功的修改之后调用：版本 +1，重新读取一次快照，
// 唤醒全部挂起的长轮询，并把快照推给所有流式订阅。返回新的版本号。
func (b *Broadcaster) NotifyChanged(ctx context.Context) Version {
	// 写已经落盘，调用方断开不应该影响通知。
	ctx = context.WithoutCancel(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.version++
	talks, err := b.load(ctx)
	snap := Snapshot{Version: b.version, Talks: talks, Err: err}

	var longest time.Duration
	if parkedAt, ok := b.waiters.oldest(); ok {
		longest = b.now().Sub(parkedAt)
	}
	waiters := b.waiters.detachAll()
	for _, w := range waiters {
		// 容量为 1 且 w 已离开 registry，只有这里会写，不会阻塞。
		w.ch <- snap
	}

	if err != nil {
		b.logger.Printf("[Broadcaster] ❌ Load snapshot failed: version=%d waiters=%d err=%v", b.version, len(waiters), err)
		return b.version
	}

	for _, ch := range b.streams {
		offerLatest(ch, snap)
	}

	b.logger.Printf("[Broadcaster] Changed: version=%d talks=%d waiters=%d longest_wait=%v streams=%d",
		b.version, len(talks), len(waiters), longest, len(b.streams))
	return b.version
}

// Current 立即返回当前版本和对应的列表；同一版本的并发读取合并为一次存储读。
// 版本号在锁内读取，列表在锁外读取：列表可能比版本号新，但不会更旧，
// 客户端最多多走一轮请求，不会漏掉变更。
func (b *Broadcaster) Current(ctx context.Context) (Snapshot, error) {
	version := b.Version()

	key := strconv.FormatUint(uint64(version), 10)
	res, err, _ := b.reads.Do(key, func() (interface{}, error) {
		return b.load(context.WithoutCancel(ctx))
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	return Snapshot{Version: version, Talks: res.([]model.Talk)}, nil
}

// Subscription 是一个流式订阅（SSE / WebSocket）。
// C 中第一条是订阅时刻的快照，之后每次变更一条；消费慢时只保留最新的一条。
type Subscription struct {
	ID uuid.UUID
	C  <-chan Snapshot
}

// Subscribe 注册流式订阅。首条快照在锁内读取，保证与后续推送之间不漏版本。
func (b *Broadcaster) Subscribe(ctx context.Context) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	talks, err := b.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	id := uuid.New()
	ch := make(chan Snapshot, 1)
	ch <- Snapshot{Version: b.version, Talks: talks}
	b.streams[id] = ch

	b.logger.Printf("[Broadcaster] Stream subscribed: id=%s version=%d streams=%d", id, b.version, len(b.streams))
	return &Subscription{ID: id, C: ch}, nil
}

// Unsubscribe 移除订阅；重复调用无副作用。
func (b *Broadcaster) Unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.streams[id]; !ok {
		return
	}
	delete(b.streams, id)
	b.logger.Printf("[Broadcaster] Stream unsubscribed: id=%s streams=%d", id, len(b.streams))
}

// Close 在进程退出时调用：挂起的长轮询以 NotModified 结束，
// 所有订阅通道被关闭，之后的长轮询不再挂起。重复调用无副作用。
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	waiters := b.waiters.detachAll()
	for _, w := range waiters {
		w.ch <- Snapshot{Version: b.version, Err: ErrClosed}
	}
	for id, ch := range b.streams {
		close(ch)
		delete(b.streams, id)
	}

	b.logger.Printf("[Broadcaster] Closed: version=%d waiters=%d", b.version, len(waiters))
}

// offerLatest 非阻塞投递；通道里还有未消费的旧快照时用新的替换掉。
// 调用方持有 b.mu，因此这里是唯一的写者。
func offerLatest(ch chan Snapshot, snap Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
