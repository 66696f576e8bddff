// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package courier

import (
	"github.com/juju/errors"
)

const (
	// ErrSessionClosed is returned by session factory methods once
	// the session has been killed.
	ErrSessionClosed = errors.ConstError("session closed")

	// ErrPublisherClosed is returned by Send on a dead publisher.
	ErrPublisherClosed = errors.ConstError("publisher closed")

	// ErrReplyConsumed is returned by RpcClient.Reply after the
	// first reply (or timeout) has already been returned.
	ErrReplyConsumed = errors.ConstError("reply already consumed")

	// ErrMissingAttributes marks an inbound query delivered without
	// its attributes blob, a backend contract violation. The query
	// is rejected before it reaches the callback.
	ErrMissingAttributes = errors.ConstError("query attributes missing")
)
