// internal/api/websocket.go
package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apperrors "github.com/Windrune/NovelForge/internal/errors"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 生产环境应做更严格的来源检查
		return true
	},
}

const wsWriteTimeout = 10 * time.Second

// wsClient 包装连接并串行化写入
// 流式下发和错误通知可能来自不同调用点，gorilla连接不允许并发写
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(v)
}

// 客户端入站消息
type wsInbound struct {
	Type        string `json:"type"`
	Action      string `json:"action,omitempty"`
	TargetIndex *int   `json:"target_index,omitempty"`
}

// wsError 出站错误封包
type wsError struct {
	Type    string `json:"type"` // "error"
	Code    string `json:"code"`
	Message string `json:"message"`
}

// GameSocket 游戏WebSocket入口
// 每个连接绑定一个会话；动作消息逐条处理，响应以步骤封包流式下发
// GET /ws/sessions/:id
func (h *Handler) GameSocket(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := h.Sessions.GetSession(sessionID); err != nil {
		h.resp.FromError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket升级失败",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return
	}
	defer conn.Close()

	client := &wsClient{conn: conn}
	h.logger.Info("WebSocket已连接", zap.String("session_id", sessionID))

	for {
		var msg wsInbound
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("WebSocket异常断开",
					zap.String("session_id", sessionID),
					zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case "action":
			h.streamAction(c, client, sessionID, msg.Action)
		case "regenerate":
			h.streamRegenerate(c, client, sessionID, msg.TargetIndex)
		case "ping":
			client.send(gin.H{"type": "pong"})
		default:
			client.send(wsError{Type: "error", Code: ErrorBadRequest,
				Message: "未知的消息类型: " + msg.Type})
		}
	}
}

// streamAction 流式处理一次动作并把封包写回连接
// 客户端中途断开时写入失败，流程中止且不落盘
func (h *Handler) streamAction(c *gin.Context, client *wsClient, sessionID, action string) {
	_, err := h.Game.ProcessActionStream(c.Request.Context(), sessionID, action, client.send)
	if err != nil {
		h.sendError(client, sessionID, err)
	}
}

// streamRegenerate 裁剪后通过流式路径重放目标用户消息
func (h *Handler) streamRegenerate(c *gin.Context, client *wsClient, sessionID string, targetIndex *int) {
	prep, err := h.Sessions.PrepareRegenerate(sessionID, targetIndex)
	if err != nil {
		h.sendError(client, sessionID, err)
		return
	}

	client.send(gin.H{
		"type":               "regenerate_accepted",
		"regenerated_from":   prep.RegeneratedFrom,
		"truncated_messages": prep.TruncatedCount,
	})

	_, err = h.Game.ProcessActionStream(c.Request.Context(), sessionID, prep.UserContent, client.send)
	if err != nil {
		h.sendError(client, sessionID, err)
	}
}

func (h *Handler) sendError(client *wsClient, sessionID string, err error) {
	h.logger.Warn("WebSocket请求处理失败",
		zap.String("session_id", sessionID),
		zap.Error(err))

	code := apperrors.CodeOf(err)
	if code == "" {
		code = ErrorInternalError
	}
	client.send(wsError{Type: "error", Code: code, Message: err.Error()})
}
