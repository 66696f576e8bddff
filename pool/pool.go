// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package pool runs a fixed number of goroutines over a shared loop
// body, typically one draining a queue.Queue until end-of-stream.
package pool

import (
	"github.com/juju/errors"
	"gopkg.in/tomb.v2"
)

// Pool is a fixed-size group of goroutines all running the same loop
// body. It implements worker.Worker. The pool never interrupts the
// body: Kill only marks the tomb dying, and Wait blocks until every
// body returns of its own accord. Callers must close whatever source
// the body consumes before waiting, or Wait blocks forever.
type Pool struct {
	tomb tomb.Tomb
}

// New starts workers goroutines each running loop until it returns.
// The first non-nil error returned by any loop becomes the pool's
// death reason.
func New(workers int, loop func() error) (*Pool, error) {
	if workers < 1 {
		return nil, errors.NotValidf("worker count %d", workers)
	}
	if loop == nil {
		return nil, errors.NotValidf("nil loop")
	}
	p := &Pool{}
	// The remaining workers are started from inside the first so the
	// tomb always has a live goroutine while Go is being called.
	p.tomb.Go(func() error {
		for i := 1; i < workers; i++ {
			p.tomb.Go(loop)
		}
		return loop()
	})
	return p, nil
}

// Kill is part of the worker.Worker interface.
func (p *Pool) Kill() {
	p.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (p *Pool) Wait() error {
	return p.tomb.Wait()
}
