package connection

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smartdevs17/mine-alert-notifier/pkg/utils"
)

// Transport names
const (
	TransportWebSocket = "websocket"
	TransportPolling   = "polling"
)

// Transport is one open Engine.IO link
type Transport interface {
	Name() string
	Handshake() Handshake
	ReadPacket() (Packet, error)
	WritePacket(p Packet) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dialer opens Engine.IO links by transport name
type Dialer interface {
	Dial(ctx context.Context, transport, endpoint string) (Transport, error)
}

// DefaultDialer speaks websocket through gorilla/websocket and polling over plain HTTP
type DefaultDialer struct {
	WebSocket  *websocket.Dialer
	HTTPClient *http.Client
	Header     http.Header
}

// NewDefaultDialer creates a dialer with sane timeouts
func NewDefaultDialer(handshakeTimeout time.Duration) *DefaultDialer {
	return &DefaultDialer{
		WebSocket: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		HTTPClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        4,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		Header: http.Header{"User-Agent": []string{"mine-alert-notifier/1.0"}},
	}
}

// Dial opens a link using the named transport
func (d *DefaultDialer) Dial(ctx context.Context, transport, endpoint string) (Transport, error) {
	switch transport {
	case TransportWebSocket:
		return dialWebSocket(ctx, d.WebSocket, d.Header, endpoint)
	case TransportPolling:
		return dialPolling(ctx, d.HTTPClient, d.Header, endpoint)
	default:
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Unsupported transport", transport)
	}
}

// EndpointURL builds the Engine.IO endpoint for a transport
func EndpointURL(baseURL, path, transport string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", utils.NewAppError(utils.ErrCodeConfiguration, "Invalid socket URL", err.Error())
	}
	if u.Scheme == "" || u.Host == "" {
		return "", utils.NewAppError(utils.ErrCodeConfiguration, "Invalid socket URL", baseURL)
	}

	if path == "" {
		path = "/socket.io/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	u.Path = strings.TrimRight(u.Path, "/") + path

	if transport == TransportWebSocket {
		switch u.Scheme {
		case "http":
			u.Scheme = "ws"
		case "https":
			u.Scheme = "wss"
		}
	} else {
		switch u.Scheme {
		case "ws":
			u.Scheme = "http"
		case "wss":
			u.Scheme = "https"
		}
	}

	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", transport)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
