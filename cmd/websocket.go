package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"posterBack/internal/bridge"
	"posterBack/internal/services"
)

/********** тайминги **********/
const (
	readLimit          = 1 << 20           // 1 MB
	readDeadline       = 120 * time.Second // дедлайн чтения (продлевается pong'ом)
	writeDeadline      = 5 * time.Second   // дедлайн записи
	pingInterval       = 15 * time.Second  // период пингов
	firstHelloDeadline = 30 * time.Second  // время на первый кадр {session_id}
	bridgeReplyTimeout = 10 * time.Second  // ожидание ответа шелла на bridge-запрос
)

/*****************************/

const (
	vipWSTypeBridgeDetect = "bridge_detect"
	vipWSTypeBridgeInvoke = "bridge_invoke"
	vipWSTypeBridgeResult = "bridge_result"
	vipWSTypePayResult    = "pay_result"
	vipWSTypeVIPPay       = "vipPay"
)

// vipWSInbound covers every frame a shell may send after the hello.
type vipWSInbound struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Success   bool            `json:"success,omitempty"`
	Message   string          `json:"message,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Caps      map[string]bool `json:"caps,omitempty"`
	Callback  string          `json:"callback,omitempty"`
	Code      int             `json:"code,omitempty"`
}

// vipWSOutbound covers bridge requests and the cross-window pay signal.
type vipWSOutbound struct {
	Type         string          `json:"type"`
	RequestID    string          `json:"request_id,omitempty"`
	Capabilities []string        `json:"capabilities,omitempty"`
	Request      *bridge.Request `json:"request,omitempty"`
	Status       int             `json:"status,omitempty"`
	SKURef       string          `json:"sku_ref,omitempty"`
}

type vipClient struct {
	sessionID string
	conn      *websocket.Conn

	// serializes writes; reads stay on the reader goroutine
	writeMu sync.Mutex
}

func (c *vipClient) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return c.conn.WriteJSON(v)
}

// VIPSocketHub keeps one websocket per purchase session. It is both the
// transport of the native bridge (request/reply frames correlated by
// request_id) and the delivery path of the vipPay terminal signal.
type VIPSocketHub struct {
	registry *bridge.Registry
	infoLog  *log.Logger
	errorLog *log.Logger

	mu      sync.Mutex
	clients map[string]*vipClient
	pending map[string]chan vipWSInbound
}

func NewVIPSocketHub(registry *bridge.Registry, infoLog, errorLog *log.Logger) *VIPSocketHub {
	return &VIPSocketHub{
		registry: registry,
		infoLog:  infoLog,
		errorLog: errorLog,
		clients:  make(map[string]*vipClient),
		pending:  make(map[string]chan vipWSInbound),
	}
}

func (h *VIPSocketHub) register(c *vipClient) {
	h.mu.Lock()
	if old, ok := h.clients[c.sessionID]; ok && old.conn != c.conn {
		_ = old.conn.Close()
	}
	h.clients[c.sessionID] = c
	h.mu.Unlock()
	h.infoLog.Printf("WS register session=%s", c.sessionID)
}

func (h *VIPSocketHub) unregister(c *vipClient) {
	h.mu.Lock()
	if cur, ok := h.clients[c.sessionID]; ok && cur.conn == c.conn {
		delete(h.clients, c.sessionID)
	}
	h.mu.Unlock()
	_ = c.conn.Close()
	h.infoLog.Printf("WS unregister session=%s", c.sessionID)
}

func (h *VIPSocketHub) client(sessionID string) *vipClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients[sessionID]
}

// NotifyPayResult pushes the vipPay terminal signal to the session's
// socket. A session without a socket simply misses the push and learns the
// outcome from the state endpoint.
func (h *VIPSocketHub) NotifyPayResult(sessionID string, status int, skuRef string) {
	c := h.client(sessionID)
	if c == nil {
		return
	}
	if err := c.writeJSON(vipWSOutbound{Type: vipWSTypeVIPPay, Status: status, SKURef: skuRef}); err != nil {
		h.errorLog.Printf("vipPay push error session=%s: %v", sessionID, err)
		h.unregister(c)
	}
}

// InvokerFor returns the bridge invoker bound to the session's socket, or
// nil when no shell is connected.
func (h *VIPSocketHub) InvokerFor(sessionID string) bridge.Invoker {
	if h.client(sessionID) == nil {
		return nil
	}
	return &sessionInvoker{hub: h, sessionID: sessionID}
}

// roundTrip sends a correlated bridge frame and waits for its reply.
func (h *VIPSocketHub) roundTrip(ctx context.Context, sessionID string, out vipWSOutbound) (vipWSInbound, error) {
	c := h.client(sessionID)
	if c == nil {
		return vipWSInbound{}, fmt.Errorf("no shell connection for session %s", sessionID)
	}

	out.RequestID = uuid.NewString()
	reply := make(chan vipWSInbound, 1)
	h.mu.Lock()
	h.pending[out.RequestID] = reply
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.pending, out.RequestID)
		h.mu.Unlock()
	}()

	if err := c.writeJSON(out); err != nil {
		h.unregister(c)
		return vipWSInbound{}, fmt.Errorf("bridge write: %w", err)
	}

	timer := time.NewTimer(bridgeReplyTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return vipWSInbound{}, ctx.Err()
	case <-timer.C:
		return vipWSInbound{}, fmt.Errorf("bridge reply timeout for %s", out.Type)
	case in := <-reply:
		return in, nil
	}
}

func (h *VIPSocketHub) deliverReply(in vipWSInbound) {
	h.mu.Lock()
	ch, ok := h.pending[in.RequestID]
	if ok {
		delete(h.pending, in.RequestID)
	}
	h.mu.Unlock()
	if ok {
		ch <- in
	}
}

type sessionInvoker struct {
	hub       *VIPSocketHub
	sessionID string
}

func (i *sessionInvoker) DetectCapabilities(ctx context.Context, names []string) (map[string]bool, error) {
	in, err := i.hub.roundTrip(ctx, i.sessionID, vipWSOutbound{
		Type:         vipWSTypeBridgeDetect,
		Capabilities: names,
	})
	if err != nil {
		return nil, err
	}
	return in.Caps, nil
}

func (i *sessionInvoker) Invoke(ctx context.Context, req bridge.Request) (bridge.Result, error) {
	in, err := i.hub.roundTrip(ctx, i.sessionID, vipWSOutbound{
		Type:    vipWSTypeBridgeInvoke,
		Request: &req,
	})
	if err != nil {
		return bridge.Result{}, err
	}
	return bridge.Result{Success: in.Success, Message: in.Message, Data: in.Data}, nil
}

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	ReadBufferSize:    1024,
	WriteBufferSize:   1024,
	EnableCompression: true,
}

// Первым фреймом клиент обязан прислать { "session_id": "<uuid>" }.
func (app *application) VIPSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		app.errorLog.Println("WebSocket upgrade error:", err)
		return
	}

	conn.SetReadLimit(readLimit)
	conn.SetReadDeadline(time.Now().Add(firstHelloDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	var hello struct {
		SessionID string `json:"session_id"`
	}
	if err := conn.ReadJSON(&hello); err != nil || strings.TrimSpace(hello.SessionID) == "" {
		app.errorLog.Println("WS hello error:", err)
		_ = conn.Close()
		return
	}
	if _, err := app.sessions.Get(hello.SessionID); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown session"),
			time.Now().Add(writeDeadline))
		_ = conn.Close()
		return
	}

	c := &vipClient{sessionID: hello.SessionID, conn: conn}
	app.hub.register(c)
	conn.SetReadDeadline(time.Now().Add(readDeadline))

	stop := make(chan struct{})
	go vipPingLoop(c, stop)

	defer func() {
		close(stop)
		app.hub.unregister(c)
	}()

	for {
		var in vipWSInbound
		if err := conn.ReadJSON(&in); err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readDeadline))

		switch in.Type {
		case vipWSTypeBridgeResult:
			app.hub.deliverReply(in)
		case vipWSTypePayResult:
			callback := in.Callback
			if callback == "" {
				callback = services.PayResultCallbackName(c.sessionID)
			}
			if !app.bridgeRegistry.Publish(callback, bridge.PayResult{Code: in.Code, Message: in.Message}) {
				app.infoLog.Printf("WS pay_result dropped (no subscriber) session=%s", c.sessionID)
			}
		default:
			app.infoLog.Printf("WS unknown frame type=%q session=%s", in.Type, c.sessionID)
		}
	}
}

func vipPingLoop(c *vipClient, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}
