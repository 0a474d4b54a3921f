package handler

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/LENAX/decision-engine/pkg/core/event"
)

// upgrader websocket升级器，API只在内网暴露，不做Origin校验
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Events 订阅某次decision run的事件流
// GET /api/v1/decisions/:id/events
//
// 升级为websocket后逐条推送该run的事件，run终止（completed/failed）
// 或客户端断开时结束。连接建立之前发生的事件从总线的历史缓冲
// 补发，先订阅再补发，补发过的事件ID在直播流里跳过。
func (h *RunHandler) Events(c *gin.Context) {
	id := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade失败时gorilla已经写了HTTP错误响应
		log.Printf("⚠️ [API] websocket升级失败: %v", err)
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	msgs, err := h.engine.Bus().SubscribeAll(ctx)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "订阅事件失败"),
			writeControlDeadline())
		return
	}

	// 补发历史事件
	replayed := make(map[string]bool)
	for _, ev := range h.engine.Bus().History().RecentForRun(id) {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
		replayed[ev.ID] = true
		if ev.Type == event.EventRunCompleted || ev.Type == event.EventRunFailed {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(ev.Type)),
				writeControlDeadline())
			return
		}
	}

	// 读循环只用来感知客户端断开
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			ev, decodeErr := event.Decode(msg.Payload)
			msg.Ack()
			if decodeErr != nil {
				continue
			}
			if ev.RunID != id || replayed[ev.ID] {
				continue
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if ev.Type == event.EventRunCompleted || ev.Type == event.EventRunFailed {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(ev.Type)),
					writeControlDeadline())
				return
			}
		case <-clientGone:
			return
		case <-ctx.Done():
			return
		}
	}
}

func writeControlDeadline() time.Time {
	return time.Now().Add(time.Second)
}
