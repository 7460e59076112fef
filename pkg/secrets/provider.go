// Package secrets resolves ${secret:name} references in configuration
// values, such as store passwords and DSNs, from the environment or from
// mounted secret files.
package secrets

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Provider that has no value for a name.
var ErrNotFound = errors.New("secret not found")

// Provider looks up secret values by name.
type Provider interface {
	// Name identifies the provider in logs and errors.
	Name() string

	// Lookup returns the value of name, or an error wrapping ErrNotFound.
	Lookup(ctx context.Context, name string) (string, error)
}
