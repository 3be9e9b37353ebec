package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

var (
	ErrBusy       = errors.New("command loop busy")
	ErrLoopClosed = errors.New("command loop closed")
)

// Command 在 CommandLoop 的单一 goroutine 上执行。
type Command func(ctx context.Context) error

// CommandLoop 串行执行所有修改类命令（单线程事件循环）。
// 解决问题：
// 1. 存储的 读-改-写 不会与其他修改交错
// 2. 每条命令的 写存储 + 广播 完成后才开始下一条，版本号与修改一一对应
type CommandLoop struct {
	commands chan *queuedCommand
	timeout  time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *log.Logger

	// 统计信息
	mu        sync.Mutex
	total     int64
	processed int64
	failed    int64
	dropped   int64
}

type queuedCommand struct {
	name      string
	fn        Command
	timestamp time.Time
	resultCh  chan error
}

const (
	// 队列容量：超过此值的命令直接拒绝（背压控制）
	defaultQueueCapacity = 100
	// 单条命令执行超时
	defaultCommandTimeout = 10 * time.Second
)

// NewCommandLoop 创建并启动命令循环；capacity/timeout 为 0 时使用默认值。
func NewCommandLoop(capacity int, timeout time.Duration, logger *log.Logger) *CommandLoop {
	if logger == nil {
		logger = log.Default()
	}
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &CommandLoop{
		commands: make(chan *queuedCommand, capacity),
		timeout:  timeout,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}

	l.wg.Add(1)
	go l.processLoop()

	return l
}

// Do 提交命令并等待执行结果。
// 队列已满时立即返回 ErrBusy；调用方 ctx 取消只影响等待，已入队的命令仍会执行。
func (l *CommandLoop) Do(ctx context.Context, name string, fn Command) error {
	select {
	case <-l.ctx.Done():
		return ErrLoopClosed
	default:
	}

	cmd := &queuedCommand{
		name:      name,
		fn:        fn,
		timestamp: time.Now(),
		resultCh:  make(chan error, 1),
	}

	select {
	case l.commands <- cmd:
		l.mu.Lock()
		l.total++
		l.mu.Unlock()
	default:
		l.mu.Lock()
		l.dropped++
		l.mu.Unlock()
		l.logger.Printf("[CommandLoop] ⚠️  Queue full, rejecting command: name=%s", name)
		return ErrBusy
	}

	select {
	case err := <-cmd.resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.ctx.Done():
		return ErrLoopClosed
	}
}

func (l *CommandLoop) processLoop() {
	defer l.wg.Done()

	for {
		select {
		case <-l.ctx.Done():
			return
		case cmd := <-l.commands:
			l.process(cmd)
		}
	}
}

func (l *CommandLoop) process(cmd *queuedCommand) {
	startTime := time.Now()
	queueLatency := startTime.Sub(cmd.timestamp)

	ctx, cancel := context.WithTimeout(l.ctx, l.timeout)
	defer cancel()

	err := l.run(ctx, cmd)
	processingTime := time.Since(startTime)

	l.mu.Lock()
	l.processed++
	if err != nil {
		l.failed++
	}
	l.mu.Unlock()

	if err != nil {
		l.logger.Printf("[CommandLoop] ❌ Command failed: name=%s error=%v queue_latency=%v processing_time=%v",
			cmd.name, err, queueLatency, processingTime)
	}
	if processingTime > 5*time.Second {
		l.logger.Printf("[CommandLoop] ⚠️  Slow command: name=%s processing_time=%v", cmd.name, processingTime)
	}

	cmd.resultCh <- err
}

// run 把 panic 转成 error，避免一条坏命令拖垮整个循环。
func (l *CommandLoop) run(ctx context.Context, cmd *queuedCommand) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command %s panicked: %v", cmd.name, r)
		}
	}()
	return cmd.fn(ctx)
}

// Close 停止循环并等待正在执行的命令结束；未执行的命令返回 ErrLoopClosed。
func (l *CommandLoop) Close() error {
	l.cancel()
	l.wg.Wait()

	stats := l.Stats()
	l.logger.Printf("[CommandLoop] Closed: total=%d processed=%d failed=%d dropped=%d pending=%d",
		stats.Total, stats.Processed, stats.Failed, stats.Dropped, stats.Pending)
	return nil
}

type LoopStats struct {
	Total     int64 `json:"total"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Pending   int   `json:"pending"`
	Capacity  int   `json:"capacity"`
}

func (l *CommandLoop) Stats() LoopStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return LoopStats{
		Total:     l.total,
		Processed: l.processed,
		Failed:    l.failed,
		Dropped:   l.dropped,
		Pending:   len(l.commands),
		Capacity:  cap(l.commands),
	}
}
