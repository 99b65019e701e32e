// Package session reaches a tool provider over MCP stdio, MCP in-process or HTTP.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/sammcj/toolbridge/types"
)

var logger = xlog.NewPackageLogger("github.com/sammcj/toolbridge", "session")

// Session is a channel to one tool provider.
// Every method other than Initialize and Close fails with ErrNotInitialized
// until the handshake completed.
type Session interface {
	Initialize(ctx context.Context) error
	ListTools(ctx context.Context) ([]types.ToolDescriptor, error)
	CallTool(ctx context.Context, req types.ToolCallRequest) (*types.ToolCallResult, error)
	Close() error
}

// BusyPolicy decides what a session does with a request while another one is in flight
type BusyPolicy int

const (
	// BusyQueue waits for the in-flight request to finish
	BusyQueue BusyPolicy = iota
	// BusyFail returns ErrSessionBusy immediately
	BusyFail
)

// DefaultTimeout bounds a single request when Options.Timeout is zero
const DefaultTimeout = 30 * time.Second

// Options configure a session
type Options struct {
	// Timeout bounds each request; expiry is reported as a transport error
	Timeout time.Duration
	// Busy is the policy for concurrent requests
	Busy BusyPolicy
	// ClientName is sent in the MCP handshake
	ClientName string
	// ClientVersion is sent in the MCP handshake
	ClientVersion string
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.ClientName == "" {
		o.ClientName = "toolbridge"
	}
	if o.ClientVersion == "" {
		o.ClientVersion = "1.0.0"
	}
	return o
}

// guard enforces the handshake and single in-flight request rules
type guard struct {
	opts        Options
	sem         chan struct{}
	initialized atomic.Bool
	closed      atomic.Bool
	closeOnce   sync.Once
}

func newGuard(opts Options) *guard {
	return &guard{
		opts: opts,
		sem:  make(chan struct{}, 1),
	}
}

// acquire takes the request slot. The returned release must be called exactly once.
func (g *guard) acquire(ctx context.Context, op string, needInit bool) (func(), error) {
	if g.closed.Load() {
		return nil, &types.TransportError{Op: op, Err: errors.New("session closed")}
	}
	if needInit && !g.initialized.Load() {
		return nil, errors.Wrap(types.ErrNotInitialized, op)
	}

	switch g.opts.Busy {
	case BusyFail:
		select {
		case g.sem <- struct{}{}:
		default:
			return nil, errors.Wrap(types.ErrSessionBusy, op)
		}
	default:
		select {
		case g.sem <- struct{}{}:
		case <-ctx.Done():
			return nil, &types.TransportError{Op: op, Err: ctx.Err()}
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-g.sem })
	}, nil
}

// withTimeout bounds a request with the session timeout
func (g *guard) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.opts.Timeout)
}

// timedOut reports whether the request context ended before the provider answered
func timedOut(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		cause := context.Cause(ctx)
		if cause == nil {
			cause = err
		}
		return &types.TransportError{Op: op, Err: cause}
	}
	return nil
}
