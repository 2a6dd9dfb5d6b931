package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"arenasync/protocol"
)

const writeWait = 5 * time.Second

// Transport 把编码后的消息交给网络。websocket 之上两个通道都是可靠有序的，
// 通道信息保留给能区分投递语义的传输实现。
type Transport interface {
	Send(ch protocol.Channel, b []byte) error
}

// WSTransport gorilla websocket 客户端；写操作串行化
type WSTransport struct {
	ws    *websocket.Conn
	codec protocol.Codec

	wmu sync.Mutex
}

// Dial 建立连接并完成 HELLO/WELCOME 握手
func Dial(ctx context.Context, url string, hello protocol.HelloMsg) (*WSTransport, protocol.WelcomeMsg, error) {
	var welcome protocol.WelcomeMsg
	codec, err := protocol.CodecByName(hello.Codec)
	if err != nil {
		return nil, welcome, err
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, welcome, fmt.Errorf("dial %s: %w", url, err)
	}
	if hello.Type == "" {
		hello.Type = protocol.TypeHello
	}
	if hello.ProtocolVersion == "" {
		hello.ProtocolVersion = protocol.Version
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(hello); err != nil {
		_ = ws.Close()
		return nil, welcome, err
	}

	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		_ = ws.Close()
		return nil, welcome, fmt.Errorf("handshake: %w", err)
	}
	_ = ws.SetReadDeadline(time.Time{})
	base, err := protocol.DecodeBase(protocol.JSON, raw)
	if err != nil {
		_ = ws.Close()
		return nil, welcome, fmt.Errorf("handshake: %w", err)
	}
	switch base.Type {
	case protocol.TypeWelcome:
		if err := protocol.JSON.Unmarshal(raw, &welcome); err != nil {
			_ = ws.Close()
			return nil, welcome, err
		}
	case protocol.TypeError:
		var e protocol.ErrorMsg
		_ = protocol.JSON.Unmarshal(raw, &e)
		_ = ws.Close()
		return nil, welcome, fmt.Errorf("handshake rejected: %s: %s", e.Code, e.Message)
	default:
		_ = ws.Close()
		return nil, welcome, fmt.Errorf("handshake: unexpected %q", base.Type)
	}
	return &WSTransport{ws: ws, codec: codec}, welcome, nil
}

func (t *WSTransport) Codec() protocol.Codec { return t.codec }

func (t *WSTransport) Send(_ protocol.Channel, b []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	mt := websocket.TextMessage
	if t.codec.Binary() {
		mt = websocket.BinaryMessage
	}
	_ = t.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return t.ws.WriteMessage(mt, b)
}

// SendMsg 编码后按消息类型选择通道发送
func (t *WSTransport) SendMsg(msgType string, v any) error {
	b, err := t.codec.Marshal(v)
	if err != nil {
		return err
	}
	return t.Send(protocol.ChannelFor(msgType), b)
}

// Receive 阻塞读取下一条消息，只允许单个读协程
func (t *WSTransport) Receive() ([]byte, error) {
	_, b, err := t.ws.ReadMessage()
	return b, err
}

func (t *WSTransport) Close() error {
	t.wmu.Lock()
	_ = t.ws.SetWriteDeadline(time.Now().Add(time.Second))
	_ = t.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.wmu.Unlock()
	return t.ws.Close()
}
