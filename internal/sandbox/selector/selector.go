// Package selector picks the execution backend from configuration once at
// startup.
package selector

import (
	"context"
	"strings"

	"codesandbox/internal/sandbox/backend"
	appErr "codesandbox/pkg/errors"
	"codesandbox/pkg/utils/logger"

	"go.uber.org/zap"
)

// Mode is the configured execution mode.
type Mode string

const (
	ModeNative Mode = "native"
	ModeDocker Mode = "docker"
)

// ParseMode maps a configuration value onto a mode. "docker" is matched
// case-insensitively and without trimming; anything else, including the
// empty string or a padded value, is native.
func ParseMode(value string) Mode {
	if strings.EqualFold(value, string(ModeDocker)) {
		return ModeDocker
	}
	return ModeNative
}

// Factory builds a backend. Only the selected factory is invoked.
type Factory func(ctx context.Context) (backend.Backend, error)

// Factories holds one constructor per mode.
type Factories struct {
	Native Factory
	Docker Factory
}

// Select builds the backend for the configured value.
func Select(ctx context.Context, value string, factories Factories) (backend.Backend, Mode, error) {
	mode := ParseMode(value)
	if value != "" && !strings.EqualFold(value, string(mode)) {
		logger.Warn(ctx, "unknown sandbox mode, falling back to native", zap.String("mode", value))
	}

	factory := factories.Native
	if mode == ModeDocker {
		factory = factories.Docker
	}
	if factory == nil {
		return nil, mode, appErr.Newf(appErr.SandboxUnavailable, "no backend registered for mode %s", mode)
	}
	b, err := factory(ctx)
	if err != nil {
		return nil, mode, appErr.Wrapf(err, appErr.SandboxUnavailable, "init %s backend failed", mode)
	}
	logger.Info(ctx, "sandbox backend selected", zap.String("mode", string(mode)), zap.String("backend", b.Name()))
	return b, mode, nil
}
