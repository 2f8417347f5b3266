// Package store provides the SQLite-backed session registry, event log,
// and unit-of-work layer. All mutation is funneled through a single
// write serializer; reads run concurrently against the WAL.
package store

import "github.com/user/sessionhub/internal/types"

// Compile-time interface compliance checks.
var _ types.SessionRegistry = (*SessionRegistry)(nil)
var _ types.EventStore = (*EventStore)(nil)
