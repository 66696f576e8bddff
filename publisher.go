// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package courier

import (
	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"gopkg.in/tomb.v2"

	"github.com/juju/courier/driver"
)

// Publisher sends messages to a fixed topic. Send is synchronous and
// fire-and-forget: the backend accepting the write is the only
// acknowledgement, and nothing is retried or queued here.
type Publisher interface {
	worker.Worker

	// Topic returns the topic the publisher sends to.
	Topic() Topic

	// Send forwards one message to all current subscribers of the
	// topic. Backend rejections are returned, never dropped.
	Send(message Message) error
}

// NewPublisher implements Session.
func (s *session) NewPublisher(topic Topic) (Publisher, error) {
	if topic == "" {
		return nil, errors.NotValidf("empty topic")
	}
	if err := s.checkAlive(); err != nil {
		return nil, errors.Trace(err)
	}
	handle, err := s.conn.Publisher(topic.String())
	if err != nil {
		return nil, errors.Annotatef(err, "declaring publisher for %q", topic)
	}
	p := &publisher{
		topic:  topic,
		handle: handle,
		logger: s.config.Logger,
	}
	p.tomb.Go(func() error {
		<-p.tomb.Dying()
		return p.handle.Close()
	})
	if err := s.registerChild(p); err != nil {
		_ = worker.Stop(p)
		return nil, errors.Trace(err)
	}
	return p, nil
}

type publisher struct {
	tomb   tomb.Tomb
	topic  Topic
	handle driver.Publisher
	logger Logger
}

// Topic implements Publisher.
func (p *publisher) Topic() Topic {
	return p.topic
}

// Send implements Publisher.
func (p *publisher) Send(message Message) error {
	select {
	case <-p.tomb.Dying():
		return ErrPublisherClosed
	default:
	}
	if err := p.handle.Send(message.Payload, message.Attributes); err != nil {
		return errors.Annotatef(err, "publishing to %q", p.topic)
	}
	p.logger.Tracef("published %d byte message to %q", len(message.Payload), p.topic)
	return nil
}

// Kill is part of the worker.Worker interface.
func (p *publisher) Kill() {
	p.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (p *publisher) Wait() error {
	return p.tomb.Wait()
}
