package connection

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/smartdevs17/mine-alert-notifier/pkg/utils"
)

// pollingTransport carries Engine.IO packets over HTTP long-polling
type pollingTransport struct {
	client    *http.Client
	header    http.Header
	endpoint  string
	handshake Handshake

	ctx    context.Context
	cancel context.CancelFunc

	queue []Packet

	mu       sync.Mutex
	deadline time.Time

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func dialPolling(ctx context.Context, client *http.Client, header http.Header, endpoint string) (Transport, error) {
	if client == nil {
		client = http.DefaultClient
	}

	body, err := pollRequest(ctx, client, header, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	packets, err := DecodePayload(body)
	if err != nil {
		return nil, err
	}
	if len(packets) == 0 {
		return nil, utils.NewAppError(utils.ErrCodeProtocol, "Empty polling handshake")
	}
	handshake, err := ParseHandshake(packets[0])
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid polling endpoint", err.Error())
	}
	q := u.Query()
	q.Set("sid", handshake.SID)
	u.RawQuery = q.Encode()

	linkCtx, cancel := context.WithCancel(context.Background())
	return &pollingTransport{
		client:    client,
		header:    header,
		endpoint:  u.String(),
		handshake: handshake,
		ctx:       linkCtx,
		cancel:    cancel,
		queue:     packets[1:],
	}, nil
}

func (t *pollingTransport) Name() string {
	return TransportPolling
}

func (t *pollingTransport) Handshake() Handshake {
	return t.handshake
}

func (t *pollingTransport) ReadPacket() (Packet, error) {
	for len(t.queue) == 0 {
		ctx := t.ctx
		t.mu.Lock()
		deadline := t.deadline
		t.mu.Unlock()

		var cancel context.CancelFunc
		if !deadline.IsZero() {
			ctx, cancel = context.WithDeadline(ctx, deadline)
		}
		body, err := pollRequest(ctx, t.client, t.header, http.MethodGet, t.endpoint, nil)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			return Packet{}, err
		}

		packets, err := DecodePayload(body)
		if err != nil {
			return Packet{}, err
		}
		t.queue = append(t.queue, packets...)
	}

	p := t.queue[0]
	t.queue = t.queue[1:]
	return p, nil
}

func (t *pollingTransport) WritePacket(p Packet) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.ctx.Err() != nil {
		return utils.NewAppError(utils.ErrCodeConnection, "Polling transport closed")
	}
	_, err := pollRequest(t.ctx, t.client, t.header, http.MethodPost, t.endpoint, strings.NewReader(EncodePacket(p)))
	return err
}

func (t *pollingTransport) SetReadDeadline(deadline time.Time) error {
	t.mu.Lock()
	t.deadline = deadline
	t.mu.Unlock()
	return nil
}

func (t *pollingTransport) Close() error {
	t.closeOnce.Do(func() {
		// aborts a pending poll or write so writeMu is released promptly
		t.cancel()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		t.writeMu.Lock()
		pollRequest(ctx, t.client, t.header, http.MethodPost, t.endpoint,
			strings.NewReader(EncodePacket(Packet{Type: PacketClose})))
		t.writeMu.Unlock()
	})
	return nil
}

// pollRequest performs one polling round trip and returns the body
func pollRequest(ctx context.Context, client *http.Client, header http.Header, method, endpoint string, body io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return "", utils.NewAppError(utils.ErrCodeConnection, "Failed to create polling request", err.Error())
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", utils.NewAppError(utils.ErrCodeConnection, "Polling request failed", err.Error())
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", utils.NewAppError(utils.ErrCodeConnection, "Failed to read polling response", err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		return "", utils.NewAppError(utils.ErrCodeConnection, "Polling request rejected",
			fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
	}
	return string(data), nil
}
