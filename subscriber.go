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

// SubscriberCallback handles one delivered message. source is the
// topic the message was published to, subscribed the topic the
// subscriber was registered with. Callbacks run on the subscriber's
// worker pool, possibly several at once, and must deal with their
// own errors; a callback that panics is a caller bug and takes the
// process down.
type SubscriberCallback func(source, subscribed Topic, message Message)

// Subscriber delivers messages on a topic to a callback, running the
// callback on its own worker pool so the backend's delivery
// goroutines are never blocked by user code.
type Subscriber interface {
	worker.Worker

	// Topic returns the subscribed topic.
	Topic() Topic
}

// SubscriberConfig holds a subscriber's dependencies.
type SubscriberConfig struct {
	// Topic is the address pattern to subscribe to.
	Topic Topic

	// Callback is invoked once per delivered message.
	Callback SubscriberCallback

	// Workers is the number of goroutines running Callback.
	Workers int

	// Logger defaults to the session's logger.
	Logger Logger
}

// Validate returns an error if the config cannot be used.
func (config SubscriberConfig) Validate() error {
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

// inboundSample is one delivered message, decoded and copied on the
// backend goroutine, processed on the worker pool.
type inboundSample struct {
	source     string
	payload    []byte
	attributes []byte
}

// NewSubscriber implements Session.
func (s *session) NewSubscriber(config SubscriberConfig) (Subscriber, error) {
	if config.Logger == nil {
		config.Logger = s.config.Logger
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if err := s.checkAlive(); err != nil {
		return nil, errors.Trace(err)
	}

	w := &subscriber{
		config: config,
		queue:  queue.New[inboundSample](),
	}
	sub, err := s.conn.Subscribe(config.Topic.String(), w.onSample)
	if err != nil {
		return nil, errors.Annotatef(err, "subscribing to %q", config.Topic)
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

type subscriber struct {
	catacomb catacomb.Catacomb
	config   SubscriberConfig
	queue    *queue.Queue[inboundSample]
	pool     *pool.Pool
	sub      driver.Subscription
}

// Topic implements Subscriber.
func (w *subscriber) Topic() Topic {
	return w.config.Topic
}

// Kill is part of the worker.Worker interface.
func (w *subscriber) Kill() {
	w.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *subscriber) Wait() error {
	return w.catacomb.Wait()
}

// onSample runs on a backend delivery goroutine. It only copies and
// enqueues; everything slow happens on the worker pool.
func (w *subscriber) onSample(source string, payload, attributes []byte) {
	accepted := w.queue.Push(inboundSample{
		source:     source,
		payload:    append([]byte(nil), payload...),
		attributes: append([]byte(nil), attributes...),
	})
	if !accepted {
		// Delivery racing subscriber shutdown; the message is gone
		// for this subscriber either way.
		w.config.Logger.Tracef("dropped sample from %q during shutdown", source)
	}
}

// process is the pool loop body: drain the queue until end of
// stream, handing each sample to the callback.
func (w *subscriber) process() error {
	for {
		sample, ok := w.queue.Pull()
		if !ok {
			return nil
		}
		w.config.Callback(Topic(sample.source), w.config.Topic, Message{
			Payload:    sample.payload,
			Attributes: sample.attributes,
		})
	}
}

func (w *subscriber) loop() error {
	<-w.catacomb.Dying()

	// Close the queue first so the pool drains out, then undeclare.
	// A sample delivered while we tear down is dropped by the closed
	// queue, which is the accepted resolution of that race.
	w.queue.Close()
	if err := w.pool.Wait(); err != nil {
		w.config.Logger.Errorf("subscriber pool for %q: %v", w.config.Topic, err)
	}
	if err := w.sub.Unsubscribe(); err != nil {
		w.config.Logger.Warningf("unsubscribing from %q: %v", w.config.Topic, err)
	}
	return w.catacomb.ErrDying()
}
