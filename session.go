// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package courier

import (
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"

	"github.com/juju/courier/driver"
)

// Logger is the logging surface used by courier components. The
// loggo Logger satisfies it.
type Logger interface {
	Errorf(string, ...interface{})
	Warningf(string, ...interface{})
	Debugf(string, ...interface{})
	Tracef(string, ...interface{})
}

// Session owns one backend connection and is the factory for every
// other component. A session stays alive until killed; killing it
// stops all live children before the connection is closed.
type Session interface {
	worker.Worker

	// NewPublisher declares a send handle on topic.
	NewPublisher(topic Topic) (Publisher, error)

	// NewSubscriber registers a delivery handler and worker pool for
	// the configured topic.
	NewSubscriber(config SubscriberConfig) (Subscriber, error)

	// NewRpcClient issues one request to topic and returns a handle
	// the first reply can be collected from.
	NewRpcClient(topic Topic, request Message, timeout time.Duration) (RpcClient, error)

	// Call issues one request and blocks for its first reply, or a
	// timeout error after timeout has elapsed.
	Call(topic Topic, request Message, timeout time.Duration) (Topic, Message, error)

	// NewRpcServer registers a query handler and worker pool for the
	// configured topic.
	NewRpcServer(config RpcServerConfig) (RpcServer, error)

	// Close kills the session and waits for it to be gone.
	Close() error
}

// SessionConfig holds what a session needs to reach its backend.
type SessionConfig struct {
	// Driver names a registered backend driver.
	Driver string

	// Descriptor is the backend's opaque startup configuration.
	Descriptor string

	// Clock defaults to clock.WallClock.
	Clock clock.Clock

	// Logger defaults to the "courier" loggo logger.
	Logger Logger
}

// Validate returns an error if the config cannot be used.
func (config SessionConfig) Validate() error {
	if config.Driver == "" {
		return errors.NotValidf("empty Driver")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Open establishes a session with the backend named by
// config.Driver. Failure to connect is fatal to construction; there
// is no partial session.
func Open(config SessionConfig) (Session, error) {
	if config.Clock == nil {
		config.Clock = clock.WallClock
	}
	if config.Logger == nil {
		config.Logger = loggo.GetLogger("courier")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	conn, err := driver.Open(config.Driver, config.Descriptor)
	if err != nil {
		return nil, errors.Trace(err)
	}
	s := &session{
		config:   config,
		conn:     conn,
		children: make(map[uint64]worker.Worker),
	}
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &s.catacomb,
		Work: s.loop,
	}); err != nil {
		_ = conn.Close()
		return nil, errors.Trace(err)
	}
	return s, nil
}

type session struct {
	catacomb catacomb.Catacomb
	config   SessionConfig
	conn     driver.Connection

	mu       sync.Mutex
	closed   bool
	children map[uint64]worker.Worker
	nextID   uint64
}

// Kill is part of the worker.Worker interface.
func (s *session) Kill() {
	s.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (s *session) Wait() error {
	return s.catacomb.Wait()
}

// Close implements Session.
func (s *session) Close() error {
	return worker.Stop(s)
}

func (s *session) loop() error {
	<-s.catacomb.Dying()

	// No new children from here on; stop the live ones before the
	// connection they share goes away.
	s.mu.Lock()
	s.closed = true
	children := make([]worker.Worker, 0, len(s.children))
	for _, w := range s.children {
		children = append(children, w)
	}
	s.mu.Unlock()

	for _, w := range children {
		if err := worker.Stop(w); err != nil {
			s.config.Logger.Warningf("stopping session child: %v", err)
		}
	}
	if err := s.conn.Close(); err != nil {
		return errors.Annotate(err, "closing backend connection")
	}
	return s.catacomb.ErrDying()
}

// registerChild tracks w so the session cannot outlive it unnoticed.
// The child is stopped when the session dies; if it dies first it
// drops out of the registry by itself.
func (s *session) registerChild(w worker.Worker) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	id := s.nextID
	s.nextID++
	s.children[id] = w
	s.mu.Unlock()

	go func() {
		_ = w.Wait()
		s.mu.Lock()
		delete(s.children, id)
		s.mu.Unlock()
	}()
	return nil
}

func (s *session) checkAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}
