package wsrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var (
	// ErrClosed is returned for calls on, or waits over, a closed connection.
	ErrClosed = errors.New("websocket connection closed")
	// ErrSubscriptionClosed is returned once the node ends a subscription.
	ErrSubscriptionClosed = errors.New("subscription closed")
)

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// message is anything the node sends: a response (ID set) or a
// subscription notification (Method set).
type message struct {
	ID     *uint64         `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
	Method string          `json:"method,omitempty"`
	Params *notification   `json:"params,omitempty"`
}

type notification struct {
	Subscription json.RawMessage `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

type response struct {
	result json.RawMessage
	err    error
}

type call struct {
	done chan response
	// subscribe marks calls whose result is a subscription id; the reader
	// registers the subscription before any notification for it is handled.
	subscribe bool
	sub       *subscription
}

type subscription struct {
	id     string
	ch     chan json.RawMessage
	closed chan struct{}
	err    error
}

// conn multiplexes JSON-RPC calls and subscriptions over one websocket.
type conn struct {
	ws  *websocket.Conn
	log logrus.FieldLogger

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	calls   map[uint64]*call
	subs    map[string]*subscription
	readErr error
	done    chan struct{}
}

func dial(ctx context.Context, url string, log logrus.FieldLogger) (*conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect websocket: %w", err)
	}
	c := &conn{
		ws:    ws,
		log:   log,
		calls: make(map[uint64]*call),
		subs:  make(map[string]*subscription),
		done:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// subscriptionID normalizes ids sent either as strings or numbers.
func subscriptionID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func (c *conn) readLoop() {
	defer c.shutdown()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.WithError(err).Warn("Failed to parse websocket message")
			continue
		}
		switch {
		case msg.ID != nil:
			c.handleResponse(*msg.ID, &msg)
		case msg.Params != nil:
			c.handleNotification(msg.Params)
		}
	}
}

func (c *conn) handleResponse(id uint64, msg *message) {
	c.mu.Lock()
	cl, ok := c.calls[id]
	delete(c.calls, id)
	if ok && cl.subscribe && msg.Error == nil {
		sub := &subscription{
			id:     subscriptionID(msg.Result),
			ch:     make(chan json.RawMessage, 64),
			closed: make(chan struct{}),
		}
		c.subs[sub.id] = sub
		cl.sub = sub
	}
	c.mu.Unlock()
	if !ok {
		c.log.WithField("id", id).Debug("Response to unknown call")
		return
	}
	if msg.Error != nil {
		cl.done <- response{err: msg.Error}
		return
	}
	cl.done <- response{result: msg.Result}
}

func (c *conn) handleNotification(n *notification) {
	c.mu.Lock()
	sub, ok := c.subs[subscriptionID(n.Subscription)]
	c.mu.Unlock()
	if !ok {
		c.log.WithField("subscription", string(n.Subscription)).Debug("Notification for unknown subscription")
		return
	}
	select {
	case sub.ch <- n.Result:
	case <-sub.closed:
	}
}

func (c *conn) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.readErr
	if err == nil {
		err = ErrClosed
	}
	for id, cl := range c.calls {
		cl.done <- response{err: fmt.Errorf("%w: %v", ErrClosed, err)}
		delete(c.calls, id)
	}
	for id, sub := range c.subs {
		sub.err = fmt.Errorf("%w: %v", ErrClosed, err)
		close(sub.closed)
		delete(c.subs, id)
	}
	close(c.done)
}

func (c *conn) send(ctx context.Context, method string, params []interface{}, subscribe bool) (*call, error) {
	if params == nil {
		params = []interface{}{}
	}
	cl := &call{done: make(chan response, 1), subscribe: subscribe}

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return nil, ErrClosed
	default:
	}
	c.nextID++
	id := c.nextID
	c.calls[id] = cl
	c.mu.Unlock()

	req := request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	c.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
	}
	err := c.ws.WriteJSON(&req)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.calls, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return cl, nil
}

func wait(ctx context.Context, method string, cl *call) (json.RawMessage, error) {
	select {
	case resp := <-cl.done:
		if resp.err != nil {
			return nil, fmt.Errorf("%s: %w", method, resp.err)
		}
		return resp.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Call performs one request and decodes its result into out.
func (c *conn) Call(ctx context.Context, out interface{}, method string, params ...interface{}) error {
	cl, err := c.send(ctx, method, params, false)
	if err != nil {
		return err
	}
	raw, err := wait(ctx, method, cl)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s result: %w", method, err)
	}
	return nil
}

// Subscribe performs a subscribing request.
func (c *conn) Subscribe(ctx context.Context, method string, params ...interface{}) (*subscription, error) {
	cl, err := c.send(ctx, method, params, true)
	if err != nil {
		return nil, err
	}
	if _, err := wait(ctx, method, cl); err != nil {
		return nil, err
	}
	return cl.sub, nil
}

// Next waits for the next notification of sub.
func (c *conn) Next(ctx context.Context, sub *subscription) (json.RawMessage, error) {
	select {
	case raw := <-sub.ch:
		return raw, nil
	case <-sub.closed:
		// drain what arrived before the close
		select {
		case raw := <-sub.ch:
			return raw, nil
		default:
		}
		if sub.err != nil {
			return nil, sub.err
		}
		return nil, ErrSubscriptionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Unsubscribe forgets sub locally and asks the node to drop it.
func (c *conn) Unsubscribe(ctx context.Context, method string, sub *subscription) error {
	c.mu.Lock()
	_, ok := c.subs[sub.id]
	if ok {
		delete(c.subs, sub.id)
		close(sub.closed)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	var unused bool
	return c.Call(ctx, &unused, method, sub.id)
}

func (c *conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	err := c.ws.Close()
	<-c.done
	return err
}
