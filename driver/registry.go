// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package driver

import (
	"sync"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Driver)
)

// Register makes a backend driver available under the given name.
// It panics if the driver is nil or the name is already taken, as
// registration is expected to happen once from package init.
func Register(name string, d Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if d == nil {
		panic("driver: Register driver is nil")
	}
	if _, dup := registry[name]; dup {
		panic("driver: Register called twice for driver " + name)
	}
	registry[name] = d
}

// Open establishes a connection using the named driver.
func Open(name, descriptor string) (Connection, error) {
	registryMu.RLock()
	d, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.NotFoundf("transport driver %q", name)
	}
	conn, err := d.Open(descriptor)
	if err != nil {
		return nil, errors.Annotatef(err, "opening %q connection", name)
	}
	return conn, nil
}

// Names returns the sorted names of all registered drivers.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := set.NewStrings()
	for name := range registry {
		names.Add(name)
	}
	return names.SortedValues()
}
