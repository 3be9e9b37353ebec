package api

import (
	"strconv"
	"time"

	"skill-sharing/server/internal/model"
	"skill-sharing/server/internal/notify"
	"skill-sharing/server/internal/sse"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 5 * time.Second

// handleTalkEvents 处理 SSE 订阅：首帧为当前列表，之后每次变更一帧，id 为版本号。
func (s *Server) handleTalkEvents(c *gin.Context) {
	ctx := c.Request.Context()

	sub, err := s.broadcaster.Subscribe(ctx)
	if err != nil {
		s.writeServiceError(c, "subscribe talks", err)
		return
	}
	defer s.broadcaster.Unsubscribe(sub.ID)

	emitter := sse.New(s.config.Stream.SSETimeout)
	if err := emitter.ExtendResponse(c.Writer, ctx.Done()); err != nil {
		s.logger.Printf("[API] ❌ Failed to start event stream: %v", err)
		return
	}
	defer emitter.Close()
	s.logger.Printf("[API] 📡 Event stream opened: id=%s remote=%s timeout=%v", sub.ID, c.Request.RemoteAddr, emitter.Timeout())

	ping, stop := s.pingTicker()
	defer stop()

	retry := s.config.Stream.ReconnectTime
	for {
		select {
		case <-emitter.Done():
			s.logger.Printf("[API] Event stream closed: id=%s", sub.ID)
			return

		case snap, ok := <-sub.C:
			if !ok {
				// 服务端退出，结束响应
				s.logger.Printf("[API] Event stream ended by shutdown: id=%s", sub.ID)
				return
			}
			err := emitter.Send(sse.Event{
				ID:            strconv.FormatUint(uint64(snap.Version), 10),
				Data:          talksOf(snap),
				ReconnectTime: retry,
			})
			if err != nil {
				s.logger.Printf("[API] Event stream send failed: id=%s err=%v", sub.ID, err)
				return
			}
			// retry 只需要告诉客户端一次
			retry = 0

		case <-ping:
			if err := emitter.Send(sse.Event{Comment: "ping"}); err != nil {
				return
			}
		}
	}
}

// streamFrame 是 WebSocket 推送的消息体。
type streamFrame struct {
	Version notify.Version `json:"version"`
	Talks   []model.Talk   `json:"talks"`
}

// handleTalkSocket 以 WebSocket 推送同样的变更流。客户端发来的消息被忽略。
func (s *Server) handleTalkSocket(c *gin.Context) {
	sub, err := s.broadcaster.Subscribe(c.Request.Context())
	if err != nil {
		s.writeServiceError(c, "subscribe talks", err)
		return
	}
	defer s.broadcaster.Unsubscribe(sub.ID)

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Printf("[API] ❌ Failed to upgrade websocket: %v", err)
		return
	}
	defer conn.Close()
	s.logger.Printf("[API] 🔌 WebSocket stream opened: id=%s remote=%s", sub.ID, c.Request.RemoteAddr)

	// 读循环只负责发现断开（以及处理 pong/close 控制帧）
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Printf("[API] WebSocket read error: id=%s err=%v", sub.ID, err)
				}
				return
			}
		}
	}()

	ping, stop := s.pingTicker()
	defer stop()

	for {
		select {
		case <-closed:
			s.logger.Printf("[API] WebSocket stream closed: id=%s", sub.ID)
			return

		case snap, ok := <-sub.C:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(time.Second))
				s.logger.Printf("[API] WebSocket stream ended by shutdown: id=%s", sub.ID)
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(streamFrame{Version: snap.Version, Talks: talksOf(snap)}); err != nil {
				s.logger.Printf("[API] WebSocket write failed: id=%s err=%v", sub.ID, err)
				return
			}

		case <-ping:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}

// pingTicker 按 stream.ping_interval 心跳；为 0 时返回永不触发的 channel。
func (s *Server) pingTicker() (<-chan time.Time, func()) {
	interval := s.config.Stream.PingInterval
	if interval <= 0 {
		return nil, func() {}
	}
	ticker := time.NewTicker(interval)
	return ticker.C, ticker.Stop
}

func talksOf(snap notify.Snapshot) []model.Talk {
	if snap.Talks == nil {
		return []model.Talk{}
	}
	return snap.Talks
}
