package mboxstore

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/infodancer/mboxstore/errors"
)

// StoreFactory creates a MsgStore from configuration.
type StoreFactory func(config StoreConfig) (MsgStore, error)

// StoreConfig contains settings for opening a store.
type StoreConfig struct {
	// Type is the store type name (e.g., "mbox").
	Type string

	// BasePath is the directory holding the mbox files. Mailbox names
	// resolve to files below it.
	BasePath string

	// Options contains implementation-specific settings. The mbox store
	// reads path_template, cache_dir, read_only and mmap.
	Options map[string]string
}

// Option returns the named option, or def when it is unset or empty.
func (c StoreConfig) Option(key, def string) string {
	if v := c.Options[key]; v != "" {
		return v
	}
	return def
}

// BoolOption parses the named option with strconv.ParseBool. An unset
// option yields def; an unparsable one yields ErrStoreConfigInvalid.
func (c StoreConfig) BoolOption(key string, def bool) (bool, error) {
	v, ok := c.Options[key]
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%w: option %s: %q is not a boolean", errors.ErrStoreConfigInvalid, key, v)
	}
	return b, nil
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]StoreFactory)
)

// Register adds a store factory to the registry.
// It panics if called with an empty name or nil factory,
// or if the name is already registered.
func Register(name string, factory StoreFactory) {
	if name == "" {
		panic("mboxstore: Register called with empty name")
	}
	if factory == nil {
		panic("mboxstore: Register called with nil factory")
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		panic("mboxstore: Register called twice for " + name)
	}
	registry[name] = factory
}

// Open creates a MsgStore using the registered factory for the config type.
func Open(config StoreConfig) (MsgStore, error) {
	registryMu.RLock()
	factory, ok := registry[config.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", errors.ErrStoreNotRegistered, config.Type)
	}
	return factory(config)
}

// RegisteredTypes returns a sorted list of registered store type names.
func RegisteredTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	types := make([]string, 0, len(registry))
	for name := range registry {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}
