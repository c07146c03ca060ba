package practice

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	practiceModel "github.com/zhouzirui/aaroh/backend/internal/model/practice"
	"github.com/zhouzirui/aaroh/backend/internal/service/session"
)

const (
	readTimeout     = 60 * time.Second
	pingInterval    = 54 * time.Second
	writeTimeout    = 10 * time.Second
	maxMessageBytes = 8 << 20
)

// Coordinator 是会话协调器对外暴露的操作集合。
type Coordinator interface {
	Begin(sessionID string, notifier session.Notifier) error
	Receive(sessionID string, payload []byte) (practiceModel.FragmentRef, error)
	ReceiveAt(sessionID string, seq int, payload []byte) (practiceModel.FragmentRef, error)
	Finish(sessionID string) error
	Detach(sessionID string)
}

// WebSocketHandler 把练习录音的 WebSocket 帧转换为协调器调用。
type WebSocketHandler struct {
	coord    Coordinator
	upgrader websocket.Upgrader
	logger   *slog.Logger
	newID    func() string
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(coord Coordinator, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		coord: coord,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 4 * 1024,
		},
		logger: logger.With(slog.String("component", "practice_ws")),
		newID:  uuid.NewString,
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/practice/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// ChunkMessage 以 JSON 形式发送的音频分片，audioData 为 base64。
type ChunkMessage struct {
	AudioData []byte `json:"audioData"`
	Seq       *int   `json:"seq,omitempty"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// connection 保存单个客户端连接的状态，并实现 session.Notifier。
type connection struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	current  string
	finished bool
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	c := &connection{conn: conn, logger: h.logger.With(slog.String("remote", r.RemoteAddr))}
	c.logger.Info("client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(maxMessageBytes)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go h.pingLoop(ctx, conn)

	defer func() {
		if id := c.sessionID(); id != "" {
			h.coord.Detach(id)
		}
		c.logger.Info("client disconnected")
	}()

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("read error", slog.String("error", err.Error()))
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))

		switch messageType {
		case websocket.BinaryMessage:
			h.handleChunk(c, payload, nil)
		case websocket.TextMessage:
			h.handleText(c, payload)
		}
	}
}

func (h *WebSocketHandler) handleText(c *connection, payload []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.sendError("", "invalid message")
		return
	}

	switch msg.Type {
	case "chunk", "mic-audio-chunk":
		var chunk ChunkMessage
		if len(msg.Data) == 0 {
			c.sendError(msg.SessionID, "invalid chunk payload")
			return
		}
		if err := json.Unmarshal(msg.Data, &chunk); err != nil {
			c.sendError(msg.SessionID, "invalid chunk payload")
			return
		}
		h.handleChunk(c, chunk.AudioData, chunk.Seq)
	case "end", "mic-recording-end":
		h.handleEnd(c)
	default:
		c.sendError(msg.SessionID, "unsupported message type: "+msg.Type)
	}
}

func (h *WebSocketHandler) handleChunk(c *connection, audio []byte, seq *int) {
	if len(audio) == 0 {
		c.sendError(c.sessionID(), "empty audio chunk")
		return
	}

	id, err := h.ensureSession(c)
	if err != nil {
		c.sendError("", "could not start recording session")
		return
	}

	if seq != nil {
		_, err = h.coord.ReceiveAt(id, *seq, audio)
	} else {
		_, err = h.coord.Receive(id, audio)
	}
	if err != nil {
		c.logger.Warn("chunk rejected", slog.String("session_id", id), slog.String("error", err.Error()))
		c.sendError(id, chunkRejection(err))
	}
}

func (h *WebSocketHandler) handleEnd(c *connection) {
	id, err := h.ensureSession(c)
	if err != nil {
		c.sendError("", "could not start recording session")
		return
	}
	if err := h.coord.Finish(id); err != nil {
		c.logger.Warn("end rejected", slog.String("session_id", id), slog.String("error", err.Error()))
		c.sendError(id, "recording is already being processed")
	}
}

// ensureSession 返回当前会话；首次分片或上一个会话结束后创建新会话。
func (h *WebSocketHandler) ensureSession(c *connection) (string, error) {
	c.mu.Lock()
	if c.current != "" && !c.finished {
		id := c.current
		c.mu.Unlock()
		return id, nil
	}

	id := h.newID()
	if err := h.coord.Begin(id, c); err != nil {
		c.mu.Unlock()
		c.logger.Error("begin session failed", slog.String("error", err.Error()))
		return "", err
	}
	c.current = id
	c.finished = false
	c.mu.Unlock()

	c.logger.Info("recording session started", slog.String("session_id", id))
	c.send(outgoingMessage{Type: "session", SessionID: id, Data: map[string]string{"id": id}})
	return id, nil
}

func chunkRejection(err error) string {
	switch {
	case errors.Is(err, session.ErrNotReceiving):
		return "recording is already being processed"
	case errors.Is(err, session.ErrUnknownSession):
		return "recording session is closed"
	default:
		return "chunk could not be stored"
	}
}

func (c *connection) sessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *connection) markFinished(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == sessionID {
		c.finished = true
	}
}

// Status 推送阶段变化。
func (c *connection) Status(sessionID string, stage practiceModel.Stage) {
	c.send(outgoingMessage{
		Type:      "status",
		SessionID: sessionID,
		Data:      map[string]string{"stage": string(stage)},
	})
}

// Result 推送最终的练习反馈。
func (c *connection) Result(sessionID string, summary practiceModel.FeedbackSummary, coaching string) {
	c.markFinished(sessionID)
	data := map[string]any{"summary": summary}
	if coaching != "" {
		data["coaching"] = coaching
	}
	c.send(outgoingMessage{Type: "result", SessionID: sessionID, Data: data})
}

// Error 推送会话失败信息。
func (c *connection) Error(sessionID string, stage practiceModel.Stage, kind, message string) {
	c.markFinished(sessionID)
	c.send(outgoingMessage{
		Type:      "error",
		SessionID: sessionID,
		Data: map[string]string{
			"stage":   string(stage),
			"kind":    kind,
			"message": message,
		},
	})
}

func (c *connection) sendError(sessionID, message string) {
	c.send(outgoingMessage{
		Type:      "error",
		SessionID: sessionID,
		Data:      map[string]string{"message": message},
	})
}

func (c *connection) send(msg outgoingMessage) {
	msg.Timestamp = time.Now().Unix()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Warn("write failed", slog.String("type", msg.Type), slog.String("error", err.Error()))
	}
}

// pingLoop 定期发送ping消息
func (h *WebSocketHandler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
