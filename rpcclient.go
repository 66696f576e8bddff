// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package courier

import (
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"gopkg.in/tomb.v2"

	"github.com/juju/courier/driver"
)

// RpcClient is one outstanding request. The request is already on
// the wire when NewRpcClient returns; Reply collects its first
// response. First reply wins: anything the backend produces after
// that is discarded, and multi-responder aggregation is out of
// scope.
type RpcClient interface {
	worker.Worker

	// Reply blocks until the first reply arrives, returning its
	// source topic and message, or fails with a timeout error once
	// the request's timeout has elapsed. Reply is single-use;
	// calling it again returns ErrReplyConsumed.
	Reply() (Topic, Message, error)
}

// NewRpcClient implements Session.
func (s *session) NewRpcClient(topic Topic, request Message, timeout time.Duration) (RpcClient, error) {
	if topic == "" {
		return nil, errors.NotValidf("empty topic")
	}
	if timeout <= 0 {
		return nil, errors.NotValidf("timeout %v", timeout)
	}
	if err := s.checkAlive(); err != nil {
		return nil, errors.Trace(err)
	}
	reader, err := s.conn.Query(topic.String(), request.Payload, request.Attributes, timeout)
	if err != nil {
		return nil, errors.Annotatef(err, "querying %q", topic)
	}
	c := &rpcClient{
		topic:   topic,
		timeout: timeout,
		clock:   s.config.Clock,
		reader:  reader,
	}
	c.tomb.Go(func() error {
		<-c.tomb.Dying()
		c.reader.Close()
		return nil
	})
	if err := s.registerChild(c); err != nil {
		_ = worker.Stop(c)
		return nil, errors.Trace(err)
	}
	return c, nil
}

// Call implements Session.
func (s *session) Call(topic Topic, request Message, timeout time.Duration) (Topic, Message, error) {
	client, err := s.NewRpcClient(topic, request, timeout)
	if err != nil {
		return "", Message{}, errors.Trace(err)
	}
	defer func() { _ = worker.Stop(client) }()
	return client.Reply()
}

type rpcClient struct {
	tomb    tomb.Tomb
	topic   Topic
	timeout time.Duration
	clock   clock.Clock
	reader  driver.ReplyReader

	mu       sync.Mutex
	consumed bool
}

// Reply implements RpcClient.
func (c *rpcClient) Reply() (Topic, Message, error) {
	c.mu.Lock()
	if c.consumed {
		c.mu.Unlock()
		return "", Message{}, ErrReplyConsumed
	}
	c.consumed = true
	c.mu.Unlock()

	// The driver closes the reply stream at the deadline; the clock
	// select is a backstop against a driver that never does.
	select {
	case reply, ok := <-c.reader.Replies():
		if !ok {
			return "", Message{}, errors.Timeoutf("no reply from %q within %v", c.topic, c.timeout)
		}
		return Topic(reply.Topic), Message{
			Payload:    reply.Payload,
			Attributes: reply.Attributes,
		}, nil
	case <-c.clock.After(c.timeout):
		return "", Message{}, errors.Timeoutf("no reply from %q within %v", c.topic, c.timeout)
	case <-c.tomb.Dying():
		return "", Message{}, errors.Errorf("rpc client for %q stopped before a reply arrived", c.topic)
	}
}

// Kill is part of the worker.Worker interface.
func (c *rpcClient) Kill() {
	c.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (c *rpcClient) Wait() error {
	return c.tomb.Wait()
}
