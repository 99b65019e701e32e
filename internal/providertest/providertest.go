// Package providertest runs the current test binary as an MCP tool provider child process.
package providertest

import (
	"context"
	"os"
	"time"

	"github.com/effective-security/xlog"
	"github.com/sammcj/toolbridge/mcpserver"
	"github.com/sammcj/toolbridge/provider"
	"github.com/sammcj/toolbridge/session"
	"github.com/sammcj/toolbridge/tools"
)

// EnvChild is set in the environment of the child process
const EnvChild = "TOOLBRIDGE_PROVIDER_CHILD"

// CrashExitCode is the exit status of the child after the crash tool runs
const CrashExitCode = 3

// Wait holds the duration the wait tool blocks for
type Wait struct {
	Millis int `json:"millis" jsonschema:"description=Milliseconds to wait"`
}

// Empty takes no arguments
type Empty struct{}

// MaybeServe serves the provider on stdio and exits when the binary runs as a child.
// Call it first thing in TestMain.
func MaybeServe() {
	if os.Getenv(EnvChild) != "1" {
		return
	}

	// stdout carries the protocol
	xlog.SetFormatter(xlog.NewStringFormatter(os.Stderr))

	registry, err := Registry()
	if err != nil {
		os.Exit(2)
	}
	srv, err := mcpserver.New(context.Background(), registry)
	if err != nil {
		os.Exit(2)
	}
	if err := srv.Serve(); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

// Registry returns the arithmetic tools plus crash and wait
func Registry() (*provider.Registry, error) {
	list, err := tools.Arithmetic()
	if err != nil {
		return nil, err
	}

	crash, err := provider.NewTool("crash", "Terminate the provider process", func(_ context.Context, _ *Empty) (any, error) {
		os.Exit(CrashExitCode)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	wait, err := provider.NewTool("wait", "Wait before answering", func(ctx context.Context, in *Wait) (any, error) {
		select {
		case <-time.After(time.Duration(in.Millis) * time.Millisecond):
			return "done", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	if err != nil {
		return nil, err
	}

	r := provider.NewRegistry()
	if err := r.Register(append(list, crash, wait)...); err != nil {
		return nil, err
	}
	return r, nil
}

// Command re-executes the test binary as the provider child
func Command() session.Command {
	return session.Command{
		Path: os.Args[0],
		Args: []string{"-test.run=^$"},
		Env:  []string{EnvChild + "=1"},
	}
}
