package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"arenasync/protocol"
)

const (
	writeWait     = 5 * time.Second
	readWait      = 60 * time.Second
	pingPeriod    = 25 * time.Second
	handshakeWait = 5 * time.Second
)

type outbound struct {
	binary bool
	data   []byte
}

// ClientConn 负责发送（写）数据到客户端的轻量包装
type ClientConn struct {
	ws    *websocket.Conn
	codec protocol.Codec

	mu     sync.Mutex
	send   chan outbound
	closed bool
}

func NewClientConn(ws *websocket.Conn, codec protocol.Codec, queue int) *ClientConn {
	if queue <= 0 {
		queue = 64
	}
	return &ClientConn{
		ws:    ws,
		codec: codec,
		send:  make(chan outbound, queue),
	}
}

// Encode 使用协商好的编码序列化消息
func (c *ClientConn) Encode(v any) ([]byte, error) {
	return c.codec.Marshal(v)
}

// Enqueue 将要发送的消息压入队列（非阻塞，满则丢弃）
func (c *ClientConn) Enqueue(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- outbound{binary: c.codec.Binary(), data: b}:
		return true
	default:
		// 为了实时性，丢弃新消息（防止阻塞 Tick）
		return false
	}
}

// SendMsg 编码并入队
func (c *ClientConn) SendMsg(v any) bool {
	b, err := c.Encode(v)
	if err != nil {
		return false
	}
	return c.Enqueue(b)
}

// Close 关闭底层连接与发送队列，可重复调用
func (c *ClientConn) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		// 关闭发送通道以结束写协程
		close(c.send)
	}
	c.mu.Unlock()
	if c.ws != nil {
		_ = c.ws.Close()
	}
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定期发送 ping
func (c *ClientConn) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			mt := websocket.TextMessage
			if msg.binary {
				mt = websocket.BinaryMessage
			}
			if err := c.ws.WriteMessage(mt, msg.data); err != nil {
				return
			}
		case <-ping.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 读取客户端消息：INPUT 经限流后注入房间，HIT_CLAIM 交给 Tick 判定
func (c *ClientConn) readPump(room *Room, playerID PlayerID, limiter *rate.Limiter, log *zap.Logger) {
	// 读泵退出时，通知房间在 Tick 线程中移除该玩家
	defer room.RequestLeave(playerID, c)
	defer c.Close()
	c.ws.SetReadLimit(1 << 20) // 1MB
	_ = c.ws.SetReadDeadline(time.Now().Add(readWait))
	c.ws.SetPongHandler(func(string) error { return c.ws.SetReadDeadline(time.Now().Add(readWait)) })

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("read", zap.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(readWait))

		base, err := protocol.DecodeBase(c.codec, payload)
		if err != nil {
			c.sendError(protocol.ErrProtoBadRequest, "undecodable message")
			continue
		}
		switch base.Type {
		case protocol.TypeInput:
			if !limiter.Allow() {
				room.metrics.IncRateLimited()
				continue
			}
			var m protocol.InputMsg
			if err := c.codec.Unmarshal(payload, &m); err != nil {
				c.sendError(protocol.ErrProtoBadRequest, "bad INPUT")
				continue
			}
			in, err := decodeInput(playerID, m)
			if err != nil {
				c.sendError(protocol.ErrProtoBadRequest, err.Error())
				continue
			}
			room.OnInput(in)
		case protocol.TypeHitClaim:
			var m protocol.HitClaimMsg
			if err := c.codec.Unmarshal(payload, &m); err != nil {
				c.sendError(protocol.ErrProtoBadRequest, "bad HIT_CLAIM")
				continue
			}
			if !room.OnClaim(HitClaim{PlayerID: playerID, Msg: m}) {
				c.SendMsg(protocol.HitVerdictMsg{
					Type: protocol.TypeHitVerdict, ClaimID: m.ClaimID, Code: protocol.ErrRateLimit,
					Message: "claim queue full", Tick: room.CurrentTick(),
				})
			}
		case protocol.TypeHeartbeat:
			c.SendMsg(protocol.HeartbeatMsg{Type: protocol.TypeHeartbeat, Tick: room.CurrentTick()})
		default:
			c.sendError(protocol.ErrProtoBadRequest, "unexpected message type "+base.Type)
		}
	}
}

func (c *ClientConn) sendError(code, message string) {
	c.SendMsg(protocol.ErrorMsg{Type: protocol.TypeError, Code: code, Message: message})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 演示环境：允许所有来源（生产环境需严格限制）
		return true
	},
}

// HandleWS WebSocket 接入：?room=room-1，握手为 JSON 的 HELLO/WELCOME，之后使用协商的编码
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		roomID = s.cfg.Server.Room
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade error", zap.Error(err))
		return
	}

	hello, codec, code, err := readHello(ws, r.URL.Query().Get("player"))
	if err != nil {
		s.log.Info("handshake rejected", zap.String("remote", r.RemoteAddr), zap.String("code", code), zap.Error(err))
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = ws.WriteJSON(protocol.ErrorMsg{Type: protocol.TypeError, Code: code, Message: err.Error()})
		_ = ws.Close()
		return
	}

	room := s.rooms.GetOrCreateRoom(roomID)
	if room == nil {
		_ = ws.Close()
		return
	}
	pid := PlayerID(hello.PlayerID)
	client := NewClientConn(ws, codec, s.cfg.Server.SendQueue)
	player := room.NewPlayer(pid, uuid.NewString(), client)

	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(room.Welcome(player)); err != nil {
		_ = ws.Close()
		return
	}
	if !room.JoinPlayer(player) {
		_ = ws.Close()
		return
	}

	limiter := rate.NewLimiter(rate.Limit(s.cfg.Server.InputRateLimit), s.cfg.Server.InputBurst)
	log := s.log.With(zap.String("room", roomID), zap.String("player", string(pid)), zap.String("codec", codec.Name()))
	go client.writePump()
	go client.readPump(room, pid, limiter, log)
}

// readHello 读取并校验首条 HELLO；失败时返回线上错误码
func readHello(ws *websocket.Conn, queryPlayer string) (protocol.HelloMsg, protocol.Codec, string, error) {
	var hello protocol.HelloMsg
	_ = ws.SetReadDeadline(time.Now().Add(handshakeWait))
	if err := ws.ReadJSON(&hello); err != nil {
		return hello, nil, protocol.ErrProtoBadRequest, err
	}
	_ = ws.SetReadDeadline(time.Time{})
	if hello.Type != protocol.TypeHello {
		return hello, nil, protocol.ErrProtoBadRequest, errUnexpected(hello.Type)
	}
	if hello.ProtocolVersion != protocol.Version {
		return hello, nil, protocol.ErrProtoVersion, errVersion(hello.ProtocolVersion)
	}
	if hello.PlayerID == "" {
		hello.PlayerID = queryPlayer
	}
	if hello.PlayerID == "" || len(hello.PlayerID) > 64 {
		return hello, nil, protocol.ErrProtoBadRequest, errPlayerID
	}
	codec, err := protocol.CodecByName(hello.Codec)
	if err != nil {
		return hello, nil, protocol.ErrProtoCodec, err
	}
	return hello, codec, "", nil
}
