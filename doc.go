// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package courier provides publish/subscribe and request/reply
// messaging over pluggable transport backends.
//
// Backends deliver inbound samples and queries on their own
// goroutines, which must return quickly and must never run user
// code. Courier bridges that boundary: each Subscriber and RpcServer
// captures delivered events into a blocking queue and processes them
// on its own fixed-size worker pool, so arbitrarily slow callbacks
// never stall the transport.
//
// A Session owns one backend connection and is the factory for every
// other component. All components implement worker.Worker; killing a
// session stops its children before the connection is closed, so the
// session always outlives the publishers, subscribers and RPC
// endpoints built from it.
//
// Backends are registered by name in the driver package. The inproc
// driver carries messages over an in-process hub and is always
// available:
//
//	session, err := courier.Open(courier.SessionConfig{
//		Driver: "inproc",
//	})
package courier
