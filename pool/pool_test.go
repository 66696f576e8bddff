// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package pool_test

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4/workertest"
	gc "gopkg.in/check.v1"

	"github.com/juju/courier/pool"
)

const longWait = 10 * time.Second

type poolSuite struct{}

var _ = gc.Suite(&poolSuite{})

func (s *poolSuite) TestInvalidWorkerCount(c *gc.C) {
	_, err := pool.New(0, func() error { return nil })
	c.Check(err, jc.Satisfies, errors.IsNotValid)
	_, err = pool.New(-1, func() error { return nil })
	c.Check(err, jc.Satisfies, errors.IsNotValid)
}

func (s *poolSuite) TestNilLoop(c *gc.C) {
	_, err := pool.New(1, nil)
	c.Check(err, jc.Satisfies, errors.IsNotValid)
}

func (s *poolSuite) TestRunsAllWorkers(c *gc.C) {
	const workers = 4

	var started sync.WaitGroup
	started.Add(workers)
	release := make(chan struct{})
	var count int64

	p, err := pool.New(workers, func() error {
		atomic.AddInt64(&count, 1)
		started.Done()
		<-release
		return nil
	})
	c.Assert(err, jc.ErrorIsNil)

	done := make(chan struct{})
	go func() {
		started.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(longWait):
		c.Fatal("not all workers started")
	}
	c.Check(atomic.LoadInt64(&count), gc.Equals, int64(workers))

	close(release)
	c.Check(p.Wait(), jc.ErrorIsNil)
}

func (s *poolSuite) TestWaitReturnsLoopError(c *gc.C) {
	p, err := pool.New(2, func() error {
		return errors.New("splat")
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(p.Wait(), gc.ErrorMatches, "splat")
}

func (s *poolSuite) TestKillDoesNotInterruptLoops(c *gc.C) {
	release := make(chan struct{})
	p, err := pool.New(2, func() error {
		<-release
		return nil
	})
	c.Assert(err, jc.ErrorIsNil)

	p.Kill()
	workertest.CheckAlive(c, p)

	close(release)
	c.Check(p.Wait(), jc.ErrorIsNil)
}
