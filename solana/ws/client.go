package ws

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/copybot/gosol/pkg/logger"
)

var log = logger.M("ws")

// ClientConfig configures the subscription client.
type ClientConfig struct {
	URL            string
	Commitment     string
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	Reconnect      bool
	ReconnectDelay time.Duration
	MaxReconnect   int
}

// DefaultClientConfig returns a configuration suitable for public mainnet
// websocket endpoints.
func DefaultClientConfig(url string) *ClientConfig {
	return &ClientConfig{
		URL:            url,
		Commitment:     "confirmed",
		PingInterval:   15 * time.Second,
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		Reconnect:      true,
		ReconnectDelay: 2 * time.Second,
		MaxReconnect:   10,
	}
}

// subscription remembers enough of a subscribe call to replay it after a
// reconnect. The server assigns a new id on resubscribe, so handlers are keyed
// by our request id, which is stable.
type subscription struct {
	method   string
	params   []interface{}
	handler  NotificationHandler
	serverID uint64
}

// Client maintains one websocket connection to a Solana node and multiplexes
// accountSubscribe / logsSubscribe streams over it. Subscriptions survive
// reconnects: the client replays them and rebinds handlers to the new
// server-assigned ids.
type Client struct {
	cfg *ClientConfig

	conn      *websocket.Conn
	connMu    sync.Mutex
	connected atomic.Bool

	reqID   atomic.Int64
	pending map[int64]chan *wsMessage
	pendMu  sync.Mutex

	subs  map[int64]*subscription // by request id
	bySrv map[uint64]*subscription
	subMu sync.RWMutex

	reconnectCount int
	reconnecting   bool
	reconnectMu    sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient creates a Client; call Connect before subscribing.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.New("ws: endpoint url is required")
	}
	if cfg.Commitment == "" {
		cfg.Commitment = "confirmed"
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.MaxReconnect == 0 {
		cfg.MaxReconnect = 10
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:     cfg,
		pending: make(map[int64]chan *wsMessage),
		subs:    make(map[int64]*subscription),
		bySrv:   make(map[uint64]*subscription),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Connect dials the endpoint and starts the reader and keepalive loops.
func (c *Client) Connect() error {
	dialer := websocket.Dialer{HandshakeTimeout: 30 * time.Second}
	conn, _, err := dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		return errors.Wrapf(err, "ws: dial %s", c.cfg.URL)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.connected.Store(true)

	c.reconnectMu.Lock()
	c.reconnectCount = 0
	c.reconnectMu.Unlock()

	c.wg.Add(2)
	go c.readLoop(conn)
	go c.pingLoop(conn)

	log.Infof("connected to %s", c.cfg.URL)
	return nil
}

// IsConnected reports whether the socket is currently up.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Close shuts the client down permanently; subscriptions are discarded.
func (c *Client) Close() error {
	c.reconnectMu.Lock()
	c.cfg.Reconnect = false
	c.reconnectMu.Unlock()

	c.cancel()
	c.connected.Store(false)

	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		log.Warn("timed out waiting for ws loops to exit")
	}
	return err
}

// SubscribeAccount subscribes to account state changes for pubkey. The handler
// receives raw AccountNotification payloads.
func (c *Client) SubscribeAccount(ctx context.Context, pubkey string, handler NotificationHandler) (int64, error) {
	params := []interface{}{
		pubkey,
		map[string]string{"encoding": "jsonParsed", "commitment": c.cfg.Commitment},
	}
	return c.subscribe(ctx, "accountSubscribe", params, handler)
}

// SubscribeLogs subscribes to log events for transactions mentioning pubkey.
// The handler receives raw LogsNotification payloads.
func (c *Client) SubscribeLogs(ctx context.Context, pubkey string, handler NotificationHandler) (int64, error) {
	params := []interface{}{
		map[string]interface{}{"mentions": []string{pubkey}},
		map[string]string{"commitment": c.cfg.Commitment},
	}
	return c.subscribe(ctx, "logsSubscribe", params, handler)
}

// Unsubscribe cancels a subscription by the id returned from Subscribe*.
func (c *Client) Unsubscribe(ctx context.Context, id int64) error {
	c.subMu.Lock()
	sub, ok := c.subs[id]
	if ok {
		delete(c.subs, id)
		delete(c.bySrv, sub.serverID)
	}
	c.subMu.Unlock()
	if !ok {
		return errors.Errorf("ws: unknown subscription %d", id)
	}

	method := "accountUnsubscribe"
	if sub.method == "logsSubscribe" {
		method = "logsUnsubscribe"
	}
	_, err := c.request(ctx, method, []interface{}{sub.serverID})
	return err
}

func (c *Client) subscribe(ctx context.Context, method string, params []interface{}, handler NotificationHandler) (int64, error) {
	id, result, err := c.requestID(ctx, method, params)
	if err != nil {
		return 0, err
	}
	var serverID uint64
	if err := json.Unmarshal(result, &serverID); err != nil {
		return 0, errors.Wrapf(err, "ws: %s: decode subscription id", method)
	}

	sub := &subscription{method: method, params: params, handler: handler, serverID: serverID}
	c.subMu.Lock()
	c.subs[id] = sub
	c.bySrv[serverID] = sub
	c.subMu.Unlock()

	log.Debugf("%s established (id=%d server=%d)", method, id, serverID)
	return id, nil
}

func (c *Client) request(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	_, result, err := c.requestID(ctx, method, params)
	return result, err
}

func (c *Client) requestID(ctx context.Context, method string, params []interface{}) (int64, json.RawMessage, error) {
	if !c.IsConnected() {
		return 0, nil, errors.New("ws: not connected")
	}

	id := c.reqID.Add(1)
	ch := make(chan *wsMessage, 1)
	c.pendMu.Lock()
	c.pending[id] = ch
	c.pendMu.Unlock()
	defer func() {
		c.pendMu.Lock()
		delete(c.pending, id)
		c.pendMu.Unlock()
	}()

	req := wsRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	if err := c.writeJSON(req); err != nil {
		return 0, nil, err
	}

	select {
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case <-c.ctx.Done():
		return 0, nil, errors.New("ws: client closed")
	case msg := <-ch:
		if msg.Error != nil {
			return 0, nil, errors.Errorf("ws: %s: %d %s", method, msg.Error.Code, msg.Error.Message)
		}
		return id, msg.Result, nil
	}
}

func (c *Client) writeJSON(v interface{}) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return errors.New("ws: connection is nil")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.conn.WriteJSON(v); err != nil {
		c.connected.Store(false)
		return errors.Wrap(err, "ws: write")
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-c.ctx.Done():
				return
			default:
			}
			c.connected.Store(false)
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnf("read error: %v", err)
			}
			go c.handleDisconnect()
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debugf("unparseable message: %v", err)
			continue
		}
		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *wsMessage) {
	// Responses to our own requests carry an id.
	if msg.ID != nil {
		c.pendMu.Lock()
		ch, ok := c.pending[*msg.ID]
		c.pendMu.Unlock()
		if ok {
			ch <- msg
		}
		return
	}

	if msg.Method == "" || len(msg.Params) == 0 {
		return
	}

	var n notification
	if err := json.Unmarshal(msg.Params, &n); err != nil {
		log.Debugf("bad notification params: %v", err)
		return
	}

	c.subMu.RLock()
	sub, ok := c.bySrv[n.Subscription]
	c.subMu.RUnlock()
	if !ok || sub.handler == nil {
		return
	}
	sub.handler(n.Result)
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if !c.IsConnected() {
				return
			}
			c.connMu.Lock()
			if c.conn != conn {
				c.connMu.Unlock()
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.connMu.Unlock()
			if err != nil {
				log.Warnf("ping failed: %v", err)
				c.connected.Store(false)
				go c.handleDisconnect()
				return
			}
		}
	}
}

func (c *Client) handleDisconnect() {
	c.reconnectMu.Lock()
	if !c.cfg.Reconnect || c.reconnecting {
		c.reconnectMu.Unlock()
		return
	}
	if c.reconnectCount >= c.cfg.MaxReconnect {
		c.reconnectMu.Unlock()
		log.Error("max reconnect attempts reached, giving up")
		return
	}
	c.reconnectCount++
	c.reconnecting = true
	attempt := c.reconnectCount
	c.reconnectMu.Unlock()

	// Capped exponential backoff.
	delay := c.cfg.ReconnectDelay * time.Duration(1<<uint(attempt-1))
	if delay > time.Minute {
		delay = time.Minute
	}
	log.Warnf("reconnecting in %s (attempt %d/%d)", delay, attempt, c.cfg.MaxReconnect)

	select {
	case <-c.ctx.Done():
		c.reconnectMu.Lock()
		c.reconnecting = false
		c.reconnectMu.Unlock()
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	err := c.Connect()

	c.reconnectMu.Lock()
	c.reconnecting = false
	c.reconnectMu.Unlock()

	if err != nil {
		log.Warnf("reconnect failed: %v", err)
		go c.handleDisconnect()
		return
	}
	c.resubscribe()
}

// resubscribe replays all live subscriptions on the fresh connection and
// rebinds handlers to the new server ids.
func (c *Client) resubscribe() {
	c.subMu.Lock()
	subs := make(map[int64]*subscription, len(c.subs))
	for id, s := range c.subs {
		subs[id] = s
	}
	c.subMu.Unlock()

	if len(subs) == 0 {
		return
	}
	log.Infof("resubscribing %d subscription(s)", len(subs))

	for id, sub := range subs {
		ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
		_, result, err := c.requestID(ctx, sub.method, sub.params)
		cancel()
		if err != nil {
			log.Errorf("resubscribe %s (id=%d): %v", sub.method, id, err)
			continue
		}
		var serverID uint64
		if err := json.Unmarshal(result, &serverID); err != nil {
			log.Errorf("resubscribe %s (id=%d): decode id: %v", sub.method, id, err)
			continue
		}
		c.subMu.Lock()
		delete(c.bySrv, sub.serverID)
		sub.serverID = serverID
		c.bySrv[serverID] = sub
		c.subMu.Unlock()
	}
}
