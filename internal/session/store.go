// Package session provides durable storage for the single Instagram access
// credential that represents a logged-in studio session.
//
// A Store holds exactly one named entry (EntryName). Its presence means
// "logged in"; its absence means "logged out". Storage failures on read are
// logged and reported as absent so that startup degrades to the login prompt
// instead of failing.
package session

import (
	"context"
	"fmt"
	"strings"
)

// EntryName is the name of the single persisted entry holding the credential.
const EntryName = "ig_access_token"

// Store persists one opaque credential across process restarts.
// Implementations are safe for concurrent use.
type Store interface {
	// Get returns the stored credential. ok is false when no credential is
	// stored or the backend is unavailable.
	Get(ctx context.Context) (credential string, ok bool)

	// Set stores the credential, replacing any previous value.
	Set(ctx context.Context, credential string) error

	// Clear removes the stored credential. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// Backend names, selected with IGCS_SESSION_BACKEND.
const (
	BackendFile   = "file"
	BackendSSM    = "ssm"
	BackendDynamo = "dynamo"
	BackendMemory = "memory"
)

// ValidateBackend returns an error if name is not a known backend.
func ValidateBackend(name string) error {
	switch strings.ToLower(name) {
	case BackendFile, BackendSSM, BackendDynamo, BackendMemory:
		return nil
	}
	return fmt.Errorf("unknown session backend %q (want one of file, ssm, dynamo, memory)", name)
}
