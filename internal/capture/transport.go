package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/coder/websocket"
)

// Transport is the wire connection to the remote capture service. The
// concrete implementation speaks WebSocket; tests substitute a fake.
type Transport interface {
	// Connect dials the service and completes the handshake.
	Connect(ctx context.Context) error
	// Call sends one request and decodes the matching reply's data into
	// result. A nil result discards the data.
	Call(ctx context.Context, op string, params, result any) error
	// Close tears the connection down. Safe to call when not connected.
	Close() error
}

// Screenshot replies carry base64 frames well past the default read limit.
const wsReadLimit = 8 << 20

// WSTransport is the production Transport over a WebSocket connection.
// Calls are serialized; the service answers strictly in request order.
type WSTransport struct {
	url      string
	password string

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID uint64
}

// NewWSTransport builds a transport for the capture service at host:port.
func NewWSTransport(host string, port int, password string) *WSTransport {
	return &WSTransport{
		url:      fmt.Sprintf("ws://%s:%d", host, port),
		password: password,
	}
}

// Connect dials the service and performs the hello/identify handshake.
// An existing connection is closed first.
func (t *WSTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		t.conn.Close(websocket.StatusNormalClosure, "reconnecting")
		t.conn = nil
	}

	conn, _, err := websocket.Dial(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.url, err)
	}
	conn.SetReadLimit(wsReadLimit)

	if err := t.handshake(ctx, conn); err != nil {
		conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return err
	}
	t.conn = conn
	return nil
}

func (t *WSTransport) handshake(ctx context.Context, conn *websocket.Conn) error {
	var hello envelope
	if err := readEnvelope(ctx, conn, &hello); err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if hello.Op != opHello {
		return fmt.Errorf("expected hello, got %q", hello.Op)
	}
	var hd helloData
	if len(hello.Data) > 0 {
		if err := json.Unmarshal(hello.Data, &hd); err != nil {
			return fmt.Errorf("parse hello: %w", err)
		}
	}

	var id identifyData
	if hd.Challenge != "" {
		id.Auth = authResponse(t.password, hd.Challenge, hd.Salt)
	}
	if err := writeEnvelope(ctx, conn, envelope{Op: opIdentify, Data: mustMarshal(id)}); err != nil {
		return fmt.Errorf("send identify: %w", err)
	}

	var identified envelope
	if err := readEnvelope(ctx, conn, &identified); err != nil {
		return fmt.Errorf("read identified: %w", err)
	}
	if identified.Op != opIdentified {
		return fmt.Errorf("authentication rejected: %s", identified.Error)
	}
	return nil
}

// Call sends one request and waits for the reply with the matching id.
func (t *WSTransport) Call(ctx context.Context, op string, params, result any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return fmt.Errorf("not connected")
	}

	t.nextID++
	id := strconv.FormatUint(t.nextID, 10)

	req := envelope{Op: op, ID: id}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal %s params: %w", op, err)
		}
		req.Data = data
	}
	if err := writeEnvelope(ctx, t.conn, req); err != nil {
		return fmt.Errorf("send %s: %w", op, err)
	}

	// Replies arrive in request order; skip anything unsolicited (event
	// pushes) until our id shows up.
	for {
		var res envelope
		if err := readEnvelope(ctx, t.conn, &res); err != nil {
			return fmt.Errorf("read %s reply: %w", op, err)
		}
		if res.ID != id {
			continue
		}
		if res.Status == "error" {
			return fmt.Errorf("%s: %s", op, res.Error)
		}
		if result != nil && len(res.Data) > 0 {
			if err := json.Unmarshal(res.Data, result); err != nil {
				return fmt.Errorf("parse %s reply: %w", op, err)
			}
		}
		return nil
	}
}

// Close shuts the connection down.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close(websocket.StatusNormalClosure, "shutdown")
	t.conn = nil
	return err
}

func readEnvelope(ctx context.Context, conn *websocket.Conn, dst *envelope) error {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
