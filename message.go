// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package courier

// Topic names a publish/subscribe/query address. Equality and
// pattern-matching semantics belong to the backend driver.
type Topic string

// String is part of the fmt.Stringer interface.
func (t Topic) String() string {
	return string(t)
}

// Message is an opaque payload with an opaque attributes blob carried
// alongside it. Attributes is a single side-channel blob, not a
// structured map. Messages must not be mutated after being handed to
// Send or Call; the library copies them when they cross a transport
// thread boundary.
type Message struct {
	Payload    []byte
	Attributes []byte
}
