// Package config holds the immutable configuration snapshot a
// ConnectionEngine owns (SPEC_FULL.md §3 "Connection... owns... a
// configuration snapshot") plus a fsnotify-driven hot-reload Watcher that
// republishes a fresh snapshot without ever mutating one a connection is
// already using mid-exchange.
package config

import "time"

// Config is the immutable snapshot every connection reads once per
// exchange (never mid-exchange, per §3's ownership rule). Zero value is a
// reasonable, conservative default.
type Config struct {
	// PersistenceEnabled gates whether HTTP/1.0 keep-alive and HTTP/1.1
	// default persistence are honored at all (§4.3's "configuration
	// enables persistence" clause). A connector draining for shutdown
	// flips this off at the engine level independent of this flag.
	PersistenceEnabled bool

	// MaxHeaderBytes is the capacity the generator compares against when a
	// response-header write fails (§4.5 HeaderOverflow). Writes into a
	// pool.Scratch grow it and never fail, so this does not cap header size.
	// The request parser does not read it either; request, header and
	// chunk-size lines are bounded by wire.MaxLineLength.
	MaxHeaderBytes int

	// IdleTimeout is the duration of read inactivity a transport may use
	// to fire its idle-timeout callback; the engine's response to that
	// callback is specified independent of the exact duration (§5, §9
	// "onReadTimeout").
	IdleTimeout time.Duration

	// MaxPostHandlerDiscardBytes carries a post-handler body-discard bound
	// with the teacher's maxPostHandlerReadBytes default (SPEC_FULL.md
	// EXPANSION 4). The engine does not read it: no unread request body is
	// discarded on the application's behalf.
	MaxPostHandlerDiscardBytes int64
}

// Default returns conservative defaults matching the teacher's own
// (types_server.go's DefaultMaxHeaderBytes-equivalent) constants.
func Default() *Config {
	return &Config{
		PersistenceEnabled:         true,
		MaxHeaderBytes:             64 * 1024,
		IdleTimeout:                2 * time.Minute,
		MaxPostHandlerDiscardBytes: 256 << 10,
	}
}
