//go:build !linux

package native

import (
	"context"
	"errors"

	"codesandbox/internal/sandbox/result"
	appErr "codesandbox/pkg/errors"
)

func platformCheck() error {
	return errors.New("native backend requires linux")
}

func (b *Backend) execute(ctx context.Context, spec execSpec) (result.RawResult, error) {
	return result.RawResult{}, appErr.New(appErr.SandboxUnavailable).WithMessage("native backend requires linux")
}
