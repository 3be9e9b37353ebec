package sse

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

var (
	ErrNotStreaming = errors.New("sse: response not extended yet")
	ErrClosed       = errors.New("sse: emitter closed")
)

type State int

const (
	Uninitialized State = iota
	Streaming
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Streaming:
		return "streaming"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Emitter 管理一个客户端的 SSE 输出通道。
//
// 状态机：Uninitialized -> Streaming -> Closed。
// 进入 Closed 的途径：超时、传输层关闭、写失败、显式 Close；只发生一次。
// Handler 应阻塞在 Done() 上，返回即结束响应。
type Emitter struct {
	timeout time.Duration

	mu      sync.Mutex
	state   State
	w       http.ResponseWriter
	flusher http.Flusher
	timer   *time.Timer

	done      chan struct{}
	closeOnce sync.Once
}

// New 创建 Emitter；timeout<=0 表示不限时。
func New(timeout time.Duration) *Emitter {
	return &Emitter{
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

func (e *Emitter) Timeout() time.Duration {
	return e.timeout
}

func (e *Emitter) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Done 在进入 Closed 时关闭。
func (e *Emitter) Done() <-chan struct{} {
	return e.done
}

// ExtendResponse 写出 200 与流式响应头，并开始计时。
// closed 是传输层关闭信号（通常是 request context 的 Done），
// 它先到时会取消超时计时器。
func (e *Emitter) ExtendResponse(w http.ResponseWriter, closed <-chan struct{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Uninitialized {
		return fmt.Errorf("sse: extend response in state %s", e.state)
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Keep-Alive", "timeout=60")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	e.w = w
	e.flusher, _ = w.(http.Flusher)
	e.flush()
	e.state = Streaming

	if e.timeout > 0 {
		e.timer = time.AfterFunc(e.timeout, e.close)
	}
	if closed != nil {
		go func() {
			select {
			case <-closed:
				e.close()
			case <-e.done:
			}
		}()
	}
	return nil
}

// Send 写出一帧。Closed 之后返回 ErrClosed，不会再触碰底层连接。
// 写失败时立即关闭，由 Handler 退出并注销订阅。
func (e *Emitter) Send(ev Event) error {
	frame, err := Format(ev)
	if err != nil {
		return err
	}

	e.mu.Lock()
	switch e.state {
	case Uninitialized:
		e.mu.Unlock()
		return ErrNotStreaming
	case Closed:
		e.mu.Unlock()
		return ErrClosed
	}

	_, err = e.w.Write(frame)
	if err == nil {
		e.flush()
	}
	e.mu.Unlock()

	if err != nil {
		e.close()
		return fmt.Errorf("sse: write frame: %w", err)
	}
	return nil
}

// SimulateTimeout 走与计时器到期相同的关闭路径，便于测试。
func (e *Emitter) SimulateTimeout() {
	e.close()
}

// Close 幂等关闭。
func (e *Emitter) Close() {
	e.close()
}

func (e *Emitter) close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.state = Closed
		if e.timer != nil {
			e.timer.Stop()
		}
		e.mu.Unlock()
		close(e.done)
	})
}

func (e *Emitter) flush() {
	if e.flusher != nil {
		e.flusher.Flush()
	}
}
