// Package config holds the language registry used by the sandbox.
package config

import (
	"context"

	"codesandbox/internal/sandbox/profile"
)

// LanguageSpecRepository resolves language definitions by id.
type LanguageSpecRepository interface {
	GetLanguageSpec(ctx context.Context, id string) (profile.LanguageSpec, error)
}
