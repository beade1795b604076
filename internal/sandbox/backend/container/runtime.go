package container

import (
	"context"
	"io"

	"codesandbox/internal/sandbox/limiter"
)

// Runtime is the container-management capability the backend consumes.
type Runtime interface {
	// EnsureImage makes image available locally, pulling it when pull is set.
	EnsureImage(ctx context.Context, image string, pull bool) error
	Create(ctx context.Context, spec ContainerSpec) (string, error)
	// Attach must be called before Start so no output is lost.
	Attach(ctx context.Context, id string) (Stream, error)
	Start(ctx context.Context, id string) error
	Wait(ctx context.Context, id string) (ExitState, error)
	Stop(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	// MemoryUsage returns the current memory usage of a running container in bytes.
	MemoryUsage(ctx context.Context, id string) (int64, error)
}

// Stream is an attached stdio connection to a container.
type Stream interface {
	io.Writer
	// CloseWrite closes the container's standard input.
	CloseWrite() error
	// Demux copies stdout and stderr until the container exits.
	Demux(stdout, stderr io.Writer) error
	Close() error
}

// ContainerSpec describes one disposable container.
type ContainerSpec struct {
	Name         string
	SubmissionID string
	Image        string
	Cmd          []string
	Env          []string
	WorkDir      string
	User         string
	Binds        []Bind
	Limits       limiter.Limits
}

// Bind is a host directory mounted into the container.
type Bind struct {
	Source   string
	Target   string
	ReadOnly bool
}

// ExitState is the terminal state of a container.
type ExitState struct {
	ExitCode  int
	OOMKilled bool
}
