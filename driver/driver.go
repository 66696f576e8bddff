// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package driver defines the interface between the courier library
// and the transport backends that carry its messages, along with a
// registry of named backend implementations.
//
// A backend owns its wire protocol, topic matching rules and delivery
// threads. Drivers invoke the delivery callbacks handed to Subscribe
// and Queryable from backend-owned goroutines; those callbacks are
// expected to return quickly and must not be given work that blocks.
package driver

import (
	"time"
)

// Driver opens connections to one kind of transport backend.
type Driver interface {
	// Open establishes a connection described by the opaque
	// descriptor. The descriptor syntax is backend-defined.
	Open(descriptor string) (Connection, error)
}

// Connection is one live link to a backend, shared by all the
// publishers, subscriptions and queryables declared on it.
type Connection interface {
	// Publisher declares a send-capable handle on topic.
	Publisher(topic string) (Publisher, error)

	// Subscribe registers deliver for samples published to topic.
	// deliver is invoked from backend goroutines with the source
	// topic and the raw payload and attributes blobs; the blobs are
	// only valid for the duration of the call.
	Subscribe(topic string, deliver func(source string, payload, attributes []byte)) (Subscription, error)

	// Query issues one request to topic and returns a reader over
	// its replies. The backend closes the reply stream once timeout
	// has elapsed.
	Query(topic string, payload, attributes []byte, timeout time.Duration) (ReplyReader, error)

	// Queryable registers deliver for queries addressed to topic.
	// The Query passed to deliver is only valid for the duration of
	// the call unless cloned.
	Queryable(topic string, deliver func(Query)) (Subscription, error)

	// Close tears the connection down. All handles declared on the
	// connection must be closed first.
	Close() error
}

// Publisher is a declared send handle on a fixed topic.
type Publisher interface {
	// Send forwards one message to the backend synchronously.
	Send(payload, attributes []byte) error

	// Close undeclares the handle.
	Close() error
}

// Subscription is a registered subscriber or queryable handler.
type Subscription interface {
	// Unsubscribe undeclares the handler. No deliveries begin after
	// it returns, though one already in flight may still complete.
	Unsubscribe() error
}

// Reply is one response to a query.
type Reply struct {
	Topic      string
	Payload    []byte
	Attributes []byte
}

// ReplyReader yields the replies to a single query.
type ReplyReader interface {
	// Replies returns the channel replies arrive on. The channel is
	// closed when the query's timeout elapses or the reader is
	// closed; it is bounded, and replies beyond its capacity may be
	// dropped.
	Replies() <-chan Reply

	// Close releases the reader and discards any further replies.
	Close()
}

// Query is one inbound request delivered to a queryable handler,
// valid only for the duration of the delivery callback.
type Query interface {
	// Topic returns the topic the query was addressed to.
	Topic() string

	// Payload returns the request payload.
	Payload() []byte

	// Attributes returns the request attributes blob. The second
	// return value is false when the backend delivered the query
	// without one, which is a backend contract violation.
	Attributes() ([]byte, bool)

	// Clone retains the query past the delivery callback's return.
	Clone() OwnedQuery
}

// OwnedQuery is a cloned query that stays valid until released.
type OwnedQuery interface {
	// Reply sends one response addressed at the original query.
	Reply(payload, attributes []byte) error

	// Release frees the handle. It must be called exactly once;
	// Reply must not be called after it.
	Release()
}
