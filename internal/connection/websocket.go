package connection

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smartdevs17/mine-alert-notifier/pkg/utils"
)

// webSocketTransport carries one Engine.IO packet per text frame
type webSocketTransport struct {
	conn      *websocket.Conn
	handshake Handshake
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func dialWebSocket(ctx context.Context, dialer *websocket.Dialer, header http.Header, endpoint string) (Transport, error) {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		details := err.Error()
		if resp != nil {
			details = resp.Status
		}
		return nil, utils.NewAppError(utils.ErrCodeConnection, "WebSocket dial failed", details)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, utils.NewAppError(utils.ErrCodeConnection, "WebSocket handshake failed", err.Error())
	}
	conn.SetReadDeadline(time.Time{})

	p, err := DecodePacket(string(data))
	if err != nil {
		conn.Close()
		return nil, err
	}
	handshake, err := ParseHandshake(p)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &webSocketTransport{conn: conn, handshake: handshake}, nil
}

func (t *webSocketTransport) Name() string {
	return TransportWebSocket
}

func (t *webSocketTransport) Handshake() Handshake {
	return t.handshake
}

func (t *webSocketTransport) ReadPacket() (Packet, error) {
	kind, data, err := t.conn.ReadMessage()
	if err != nil {
		return Packet{}, err
	}
	if kind != websocket.TextMessage {
		return Packet{}, utils.NewAppError(utils.ErrCodeProtocol, "Binary frames are not supported")
	}
	return DecodePacket(string(data))
}

func (t *webSocketTransport) WritePacket(p Packet) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, []byte(EncodePacket(p)))
}

func (t *webSocketTransport) SetReadDeadline(deadline time.Time) error {
	return t.conn.SetReadDeadline(deadline)
}

func (t *webSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}
