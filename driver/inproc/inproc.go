// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package inproc provides an in-process courier backend built on a
// pubsub hub. Topic matching is exact string equality. The driver is
// registered under the name "inproc" with a process-wide hub, so
// separate sessions in one process can exchange messages; New returns
// a driver with its own isolated hub for tests that need one.
package inproc

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/pubsub/v2"

	"github.com/juju/courier/driver"
)

// replyCapacity bounds the reply channel of a single query. It is
// sized for a few backend replies in flight, not for application
// buffering; replies beyond it are dropped.
const replyCapacity = 16

func init() {
	driver.Register("inproc", New())
}

// Driver is an in-process backend driver. All connections opened
// from the same Driver share one hub.
type Driver struct {
	hub   *pubsub.SimpleHub
	clock clock.Clock
}

// New returns a driver with its own hub and a wall clock.
func New() *Driver {
	return &Driver{
		hub: pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{
			Logger: loggo.GetLogger("courier.inproc.hub"),
		}),
		clock: clock.WallClock,
	}
}

// NewWithClock returns a driver whose query deadlines fire on the
// supplied clock.
func NewWithClock(clk clock.Clock) *Driver {
	d := New()
	d.clock = clk
	return d
}

// Open is part of the driver.Driver interface. The descriptor is
// ignored: an in-process hub needs no bootstrap configuration.
func (d *Driver) Open(descriptor string) (driver.Connection, error) {
	return &connection{hub: d.hub, clock: d.clock}, nil
}

// sample is the envelope for published messages.
type sample struct {
	payload    []byte
	attributes []byte
}

// queryEnvelope is the envelope for requests; replies flow back over
// the hub on the embedded reply topic.
type queryEnvelope struct {
	payload    []byte
	attributes []byte
	replyTopic string
}

// replyEnvelope is the envelope for responses to a query.
type replyEnvelope struct {
	source     string
	payload    []byte
	attributes []byte
}

type connection struct {
	hub   *pubsub.SimpleHub
	clock clock.Clock

	mu     sync.Mutex
	closed bool
}

func (c *connection) alive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	return nil
}

// Publisher is part of the driver.Connection interface.
func (c *connection) Publisher(topic string) (driver.Publisher, error) {
	if err := c.alive(); err != nil {
		return nil, errors.Trace(err)
	}
	if topic == "" {
		return nil, errors.NotValidf("empty topic")
	}
	return &sendHandle{conn: c, topic: topic}, nil
}

// Subscribe is part of the driver.Connection interface.
func (c *connection) Subscribe(topic string, deliver func(source string, payload, attributes []byte)) (driver.Subscription, error) {
	if err := c.alive(); err != nil {
		return nil, errors.Trace(err)
	}
	if topic == "" {
		return nil, errors.NotValidf("empty topic")
	}
	unsub := c.hub.Subscribe(topic, func(t string, data interface{}) {
		s, ok := data.(sample)
		if !ok {
			// Query traffic shares the topic namespace.
			return
		}
		deliver(t, s.payload, s.attributes)
	})
	return &subscription{unsub: unsub}, nil
}

// Query is part of the driver.Connection interface.
func (c *connection) Query(topic string, payload, attributes []byte, timeout time.Duration) (driver.ReplyReader, error) {
	if err := c.alive(); err != nil {
		return nil, errors.Trace(err)
	}
	if topic == "" {
		return nil, errors.NotValidf("empty topic")
	}
	r := &replyReader{
		ch: make(chan driver.Reply, replyCapacity),
	}
	replyTopic := fmt.Sprintf("%s#reply#%s", topic, uuid.NewString())
	r.unsub = c.hub.Subscribe(replyTopic, r.onReply)
	r.timer = c.clock.AfterFunc(timeout, r.expire)
	c.hub.Publish(topic, queryEnvelope{
		payload:    copyBytes(payload),
		attributes: copyBytes(attributes),
		replyTopic: replyTopic,
	})
	return r, nil
}

// Queryable is part of the driver.Connection interface.
func (c *connection) Queryable(topic string, deliver func(driver.Query)) (driver.Subscription, error) {
	if err := c.alive(); err != nil {
		return nil, errors.Trace(err)
	}
	if topic == "" {
		return nil, errors.NotValidf("empty topic")
	}
	unsub := c.hub.Subscribe(topic, func(t string, data interface{}) {
		env, ok := data.(queryEnvelope)
		if !ok {
			return
		}
		deliver(&query{hub: c.hub, topic: t, env: env})
	})
	return &subscription{unsub: unsub}, nil
}

// Close is part of the driver.Connection interface.
func (c *connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type sendHandle struct {
	conn  *connection
	topic string

	mu     sync.Mutex
	closed bool
}

// Send is part of the driver.Publisher interface.
func (h *sendHandle) Send(payload, attributes []byte) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return errors.Errorf("publisher on %q closed", h.topic)
	}
	if err := h.conn.alive(); err != nil {
		return errors.Trace(err)
	}
	h.conn.hub.Publish(h.topic, sample{
		payload:    copyBytes(payload),
		attributes: copyBytes(attributes),
	})
	return nil
}

// Close is part of the driver.Publisher interface.
func (h *sendHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

type subscription struct {
	once  sync.Once
	unsub func()
}

// Unsubscribe is part of the driver.Subscription interface.
func (s *subscription) Unsubscribe() error {
	s.once.Do(s.unsub)
	return nil
}

// replyReader accumulates replies for one query. The hub invokes
// onReply from its own goroutines, so sends on the channel are
// guarded by a mutex and a closed flag; we can't send down a closed
// channel, and can't ask a channel whether it is closed.
type replyReader struct {
	mu     sync.Mutex
	closed bool
	ch     chan driver.Reply
	unsub  func()
	timer  clock.Timer
}

// Replies is part of the driver.ReplyReader interface.
func (r *replyReader) Replies() <-chan driver.Reply {
	return r.ch
}

// Close is part of the driver.ReplyReader interface.
func (r *replyReader) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.closeLocked()
}

func (r *replyReader) expire() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked()
}

func (r *replyReader) closeLocked() {
	if r.closed {
		return
	}
	r.closed = true
	r.unsub()
	close(r.ch)
}

func (r *replyReader) onReply(topic string, data interface{}) {
	env, ok := data.(replyEnvelope)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.ch <- driver.Reply{
		Topic:      env.source,
		Payload:    env.payload,
		Attributes: env.attributes,
	}:
	default:
		// Bounded channel; the caller only wants the first reply.
	}
}

type query struct {
	hub   *pubsub.SimpleHub
	topic string
	env   queryEnvelope
}

// Topic is part of the driver.Query interface.
func (q *query) Topic() string {
	return q.topic
}

// Payload is part of the driver.Query interface.
func (q *query) Payload() []byte {
	return q.env.payload
}

// Attributes is part of the driver.Query interface. An in-process
// query always carries attributes, possibly empty.
func (q *query) Attributes() ([]byte, bool) {
	return q.env.attributes, true
}

// Clone is part of the driver.Query interface.
func (q *query) Clone() driver.OwnedQuery {
	return &ownedQuery{
		hub:        q.hub,
		topic:      q.topic,
		replyTopic: q.env.replyTopic,
	}
}

type ownedQuery struct {
	hub        *pubsub.SimpleHub
	topic      string
	replyTopic string

	mu       sync.Mutex
	released bool
}

// Reply is part of the driver.OwnedQuery interface.
func (o *ownedQuery) Reply(payload, attributes []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.released {
		return errors.Errorf("query on %q already released", o.topic)
	}
	o.hub.Publish(o.replyTopic, replyEnvelope{
		source:     o.topic,
		payload:    copyBytes(payload),
		attributes: copyBytes(attributes),
	})
	return nil
}

// Release is part of the driver.OwnedQuery interface.
func (o *ownedQuery) Release() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.released = true
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
