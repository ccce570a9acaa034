package orchestrator

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"

	"workbench/internal/backend"
)

type reply struct {
	OK      bool
	Result  json.RawMessage
	Kind    string
	Message string
}

type wireReply struct {
	ID      json.RawMessage `json:"id"`
	OK      *bool           `json:"ok"`
	Type    string          `json:"type"`
	Result  json.RawMessage `json:"result"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

// conn is one spawned backend and its table of outstanding requests.
type conn struct {
	proc    Process
	metrics *Metrics

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan reply
	exited  bool

	done chan struct{}
}

func newConn(proc Process, m *Metrics) *conn {
	return &conn{
		proc:    proc,
		metrics: m,
		pending: map[string]chan reply{},
		done:    make(chan struct{}),
	}
}

// call sends one request and waits for its reply, ctx, or backend exit.
func (c *conn) call(ctx context.Context, typ string, fields map[string]any) (json.RawMessage, error) {
	id := uuid.NewString()
	ch := make(chan reply, 1)

	c.mu.Lock()
	if c.exited {
		c.mu.Unlock()
		return nil, ErrServiceExited
	}
	c.pending[id] = ch
	c.mu.Unlock()
	c.metrics.pending.Inc()
	defer c.metrics.pending.Dec()

	msg := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		msg[k] = v
	}
	msg["id"] = id
	msg["type"] = typ

	c.writeMu.Lock()
	err := backend.WriteOneLine(c.proc.Stdin(), msg)
	c.writeMu.Unlock()
	if errors.Is(err, backend.ErrLineTooLong) {
		c.forget(id)
		return nil, &RequestError{Kind: "bad_request", Message: err.Error()}
	}
	if err != nil {
		c.forget(id)
		return nil, &RequestError{Kind: KindServiceExited, Message: err.Error()}
	}

	select {
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case r := <-ch:
		if !r.OK {
			return nil, &RequestError{Kind: r.Kind, Message: r.Message}
		}
		return r.Result, nil
	}
}

func (c *conn) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// resolve hands a reply to its waiter. Unknown ids are ignored.
func (c *conn) resolve(id string, r reply) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if ok {
		ch <- r
	}
}

// read demultiplexes the reply stream until it ends. Replies resolve
// waiters; every other line goes to onEvent.
func (c *conn) read(onEvent func(typ string, line []byte)) {
	br := bufio.NewReaderSize(c.proc.Stdout(), 64<<10)
	for {
		line, err := backend.ReadOneLine(br)
		if errors.Is(err, backend.ErrLineTooLong) {
			continue
		}
		if err != nil {
			return
		}
		var w wireReply
		if err := json.Unmarshal(line, &w); err != nil {
			continue
		}
		if w.OK == nil {
			if w.Type != "" {
				onEvent(w.Type, line)
			}
			continue
		}
		var id string
		if err := json.Unmarshal(w.ID, &id); err != nil {
			continue
		}
		c.resolve(id, reply{OK: *w.OK, Result: w.Result, Kind: w.Error, Message: w.Message})
	}
}

func (c *conn) isExited() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exited
}

// fail marks the conn exited and resolves every waiter with service_exited.
func (c *conn) fail() {
	c.mu.Lock()
	c.exited = true
	pending := c.pending
	c.pending = map[string]chan reply{}
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- reply{Kind: KindServiceExited}
	}
}
