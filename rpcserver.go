// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package courier

import (
	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"

	"github.com/juju/courier/driver"
	"github.com/juju/courier/pool"
	"github.com/juju/courier/queue"
)

// RpcServerCallback handles one inbound query and returns the reply
// to send, or nil for a one-way query that gets no reply. Callbacks
// run on the server's worker pool, possibly several at once, and
// must deal with their own errors.
type RpcServerCallback func(topic Topic, request Message) *Message

// RpcServer answers queries on a topic. Like Subscriber it bridges
// the backend's delivery goroutines to a worker pool; additionally
// it owns a cloned backend handle per query, released exactly once
// whether or not a reply is sent.
type RpcServer interface {
	worker.Worker

	// Topic returns the topic queries are answered on.
	Topic() Topic
}

// RpcServerConfig holds an RPC server's dependencies.
type RpcServerConfig struct {
	// Topic is the address pattern to answer queries on.
	Topic Topic

	// Callback is invoked once per inbound query.
	Callback RpcServerCallback

	// Workers is the number of goroutines running Callback.
	Workers int

	// Logger defaults to the session's logger.
	Logger Logger
}

// Validate returns an error if the config cannot be used.
func (config RpcServerConfig) Validate() error {
	if config.Topic == "" {
		return errors.NotValidf("empty Topic")
	}
	if config.Callback == nil {
		return errors.NotValidf("nil Callback")
	}
	if config.Workers < 1 {
		return errors.NotValidf("Workers %d", config.Workers)
	}
	return nil
}

// inboundQuery is one decoded query plus the owned backend handle
// that must stay valid until the reply is sent or the query is
// discarded.
type inboundQuery struct {
	topic      string
	payload    []byte
	attributes []byte
	owned      driver.OwnedQuery
}

// NewRpcServer implements Session.
func (s *session) NewRpcServer(config RpcServerConfig) (RpcServer, error) {
	if config.Logger == nil {
		config.Logger = s.config.Logger
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if err := s.checkAlive(); err != nil {
		return nil, errors.Trace(err)
	}

	w := &rpcServer{
		config: config,
		queue:  queue.New[inboundQuery](),
	}
	sub, err := s.conn.Queryable(config.Topic.String(), w.onQuery)
	if err != nil {
		return nil, errors.Annotatef(err, "declaring queryable for %q", config.Topic)
	}
	w.sub = sub

	p, err := pool.New(config.Workers, w.process)
	if err != nil {
		_ = sub.Unsubscribe()
		return nil, errors.Trace(err)
	}
	w.pool = p

	if err := catacomb.Invoke(catacomb.Plan{
		Site: &w.catacomb,
		Work: w.loop,
		Init: []worker.Worker{p},
	}); err != nil {
		w.queue.Close()
		_ = worker.Stop(p)
		_ = sub.Unsubscribe()
		return nil, errors.Trace(err)
	}
	if err := s.registerChild(w); err != nil {
		_ = worker.Stop(w)
		return nil, errors.Trace(err)
	}
	return w, nil
}

type rpcServer struct {
	catacomb catacomb.Catacomb
	config   RpcServerConfig
	queue    *queue.Queue[inboundQuery]
	pool     *pool.Pool
	sub      driver.Subscription
}

// Topic implements RpcServer.
func (w *rpcServer) Topic() Topic {
	return w.config.Topic
}

// Kill is part of the worker.Worker interface.
func (w *rpcServer) Kill() {
	w.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *rpcServer) Wait() error {
	return w.catacomb.Wait()
}

// onQuery runs on a backend delivery goroutine. The query reference
// is only valid until we return, so it is cloned into an owned
// handle before crossing into the queue. A query without attributes
// violates the backend contract and is rejected here, before the
// callback can ever see it.
func (w *rpcServer) onQuery(q driver.Query) {
	attributes, ok := q.Attributes()
	if !ok {
		w.config.Logger.Errorf("rejecting query on %q: %v", q.Topic(), ErrMissingAttributes)
		return
	}
	owned := q.Clone()
	accepted := w.queue.Push(inboundQuery{
		topic:      q.Topic(),
		payload:    append([]byte(nil), q.Payload()...),
		attributes: append([]byte(nil), attributes...),
		owned:      owned,
	})
	if !accepted {
		owned.Release()
	}
}

// process is the pool loop body.
func (w *rpcServer) process() error {
	for {
		query, ok := w.queue.Pull()
		if !ok {
			return nil
		}
		w.respond(query)
	}
}

// respond runs the callback for one query and sends its reply, if
// any. The owned handle is released on every exit path.
func (w *rpcServer) respond(query inboundQuery) {
	defer query.owned.Release()

	reply := w.config.Callback(Topic(query.topic), Message{
		Payload:    query.payload,
		Attributes: query.attributes,
	})
	if reply == nil {
		w.config.Logger.Debugf("no reply for query on %q", query.topic)
		return
	}
	if err := query.owned.Reply(reply.Payload, reply.Attributes); err != nil {
		w.config.Logger.Errorf("replying to query on %q: %v", query.topic, err)
	}
}

func (w *rpcServer) loop() error {
	<-w.catacomb.Dying()

	w.queue.Close()
	if err := w.pool.Wait(); err != nil {
		w.config.Logger.Errorf("rpc server pool for %q: %v", w.config.Topic, err)
	}
	if err := w.sub.Unsubscribe(); err != nil {
		w.config.Logger.Warningf("undeclaring queryable for %q: %v", w.config.Topic, err)
	}
	return w.catacomb.ErrDying()
}
