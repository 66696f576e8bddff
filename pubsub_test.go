// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package courier_test

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/workertest"
	gc "gopkg.in/check.v1"

	"github.com/juju/courier"
	_ "github.com/juju/courier/driver/inproc"
)

type pubsubSuite struct{}

var _ = gc.Suite(&pubsubSuite{})

func (s *pubsubSuite) openInproc(c *gc.C) courier.Session {
	session, err := courier.Open(courier.SessionConfig{
		Driver: "inproc",
	})
	c.Assert(err, jc.ErrorIsNil)
	return session
}

// waitFor polls until the condition holds or the test deadline is
// blown.
func waitFor(c *gc.C, what string, cond func() bool) {
	deadline := time.Now().Add(longWait)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	c.Fatalf("timed out waiting for %s", what)
}

func (s *pubsubSuite) TestTenPublishesAllDelivered(c *gc.C) {
	session := s.openInproc(c)
	defer workertest.CleanKill(c, session)

	type entry struct {
		source     courier.Topic
		subscribed courier.Topic
		message    courier.Message
	}
	var mu sync.Mutex
	var log []entry
	_, err := session.NewSubscriber(courier.SubscriberConfig{
		Topic: "pubsub-test/ten",
		Callback: func(source, subscribed courier.Topic, message courier.Message) {
			mu.Lock()
			log = append(log, entry{source, subscribed, message})
			mu.Unlock()
		},
		Workers: 4,
	})
	c.Assert(err, jc.ErrorIsNil)

	pub, err := session.NewPublisher("pubsub-test/ten")
	c.Assert(err, jc.ErrorIsNil)
	for i := 0; i < 10; i++ {
		err := pub.Send(courier.Message{
			Payload:    []byte("x"),
			Attributes: []byte("m"),
		})
		c.Assert(err, jc.ErrorIsNil)
	}

	waitFor(c, "ten deliveries", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(log) == 10
	})
	// Settle briefly to catch duplicate deliveries.
	time.Sleep(shortWait)

	mu.Lock()
	defer mu.Unlock()
	c.Assert(log, gc.HasLen, 10)
	for _, got := range log {
		c.Check(got.source, gc.Equals, courier.Topic("pubsub-test/ten"))
		c.Check(got.subscribed, gc.Equals, courier.Topic("pubsub-test/ten"))
		c.Check(got.message.Payload, jc.DeepEquals, []byte("x"))
		c.Check(got.message.Attributes, jc.DeepEquals, []byte("m"))
	}
}

func (s *pubsubSuite) TestEverySubscriberReceives(c *gc.C) {
	session := s.openInproc(c)
	defer workertest.CleanKill(c, session)

	received := make(chan string, 4)
	for _, name := range []string{"first", "second"} {
		name := name
		_, err := session.NewSubscriber(courier.SubscriberConfig{
			Topic: "pubsub-test/fanout",
			Callback: func(source, subscribed courier.Topic, message courier.Message) {
				received <- name
			},
			Workers: 1,
		})
		c.Assert(err, jc.ErrorIsNil)
	}

	pub, err := session.NewPublisher("pubsub-test/fanout")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(pub.Send(courier.Message{Payload: []byte("x")}), jc.ErrorIsNil)

	got := make(map[string]int)
	for i := 0; i < 2; i++ {
		select {
		case name := <-received:
			got[name]++
		case <-time.After(longWait):
			c.Fatalf("only %d subscribers heard the message", i)
		}
	}
	c.Check(got, jc.DeepEquals, map[string]int{"first": 1, "second": 1})
}

func (s *pubsubSuite) TestCallbacksRunConcurrently(c *gc.C) {
	session := s.openInproc(c)
	defer workertest.CleanKill(c, session)

	var running int64
	gate := make(chan struct{})
	_, err := session.NewSubscriber(courier.SubscriberConfig{
		Topic: "pubsub-test/parallel",
		Callback: func(source, subscribed courier.Topic, message courier.Message) {
			atomic.AddInt64(&running, 1)
			<-gate
		},
		Workers: 2,
	})
	c.Assert(err, jc.ErrorIsNil)

	pub, err := session.NewPublisher("pubsub-test/parallel")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(pub.Send(courier.Message{Payload: []byte("a")}), jc.ErrorIsNil)
	c.Assert(pub.Send(courier.Message{Payload: []byte("b")}), jc.ErrorIsNil)

	waitFor(c, "two callbacks in flight", func() bool {
		return atomic.LoadInt64(&running) == 2
	})
	close(gate)
}

func (s *pubsubSuite) TestSubscriberConfigValidate(c *gc.C) {
	callback := func(courier.Topic, courier.Topic, courier.Message) {}

	err := courier.SubscriberConfig{Callback: callback, Workers: 1}.Validate()
	c.Check(err, gc.ErrorMatches, "empty Topic not valid")

	err = courier.SubscriberConfig{Topic: "t", Workers: 1}.Validate()
	c.Check(err, gc.ErrorMatches, "nil Callback not valid")

	err = courier.SubscriberConfig{Topic: "t", Callback: callback}.Validate()
	c.Check(err, gc.ErrorMatches, "Workers 0 not valid")
}

type publisherSuite struct {
	conn *fakeConn
}

var _ = gc.Suite(&publisherSuite{})

func (s *publisherSuite) SetUpTest(c *gc.C) {
	s.conn = fakeDrv.reset()
}

func (s *publisherSuite) openSession(c *gc.C) courier.Session {
	session, err := courier.Open(courier.SessionConfig{
		Driver: "fake",
	})
	c.Assert(err, jc.ErrorIsNil)
	return session
}

func (s *publisherSuite) TestDeclarationFailure(c *gc.C) {
	s.conn.publisherErr = errors.New("bad pattern")
	session := s.openSession(c)
	defer workertest.CleanKill(c, session)

	_, err := session.NewPublisher("a/**/b")
	c.Check(err, gc.ErrorMatches, `declaring publisher for "a/\*\*/b": bad pattern`)
}

func (s *publisherSuite) TestSendFailureSurfaced(c *gc.C) {
	session := s.openSession(c)
	defer workertest.CleanKill(c, session)

	pub, err := session.NewPublisher("a/b")
	c.Assert(err, jc.ErrorIsNil)

	s.conn.mu.Lock()
	s.conn.sendErr = errors.New("backend full")
	s.conn.mu.Unlock()

	err = pub.Send(courier.Message{Payload: []byte("x")})
	c.Check(err, gc.ErrorMatches, `publishing to "a/b": backend full`)
}

func (s *publisherSuite) TestSendAfterStopFails(c *gc.C) {
	session := s.openSession(c)
	defer workertest.CleanKill(c, session)

	pub, err := session.NewPublisher("a/b")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(worker.Stop(pub), jc.ErrorIsNil)

	err = pub.Send(courier.Message{Payload: []byte("x")})
	c.Check(err, jc.ErrorIs, courier.ErrPublisherClosed)
}

func (s *publisherSuite) TestSendRecordsPayloadAndAttributes(c *gc.C) {
	session := s.openSession(c)
	defer workertest.CleanKill(c, session)

	pub, err := session.NewPublisher("a/b")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(pub.Topic(), gc.Equals, courier.Topic("a/b"))

	err = pub.Send(courier.Message{Payload: []byte("x"), Attributes: []byte("m")})
	c.Assert(err, jc.ErrorIsNil)

	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	c.Assert(s.conn.sent["a/b"], gc.HasLen, 1)
	c.Check(s.conn.sent["a/b"][0].payload, jc.DeepEquals, []byte("x"))
	c.Check(s.conn.sent["a/b"][0].attributes, jc.DeepEquals, []byte("m"))
}
