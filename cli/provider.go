package cli

import (
	"context"
	"io"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/sammcj/toolbridge/config"
	"github.com/sammcj/toolbridge/mcpserver"
	"github.com/sammcj/toolbridge/provider"
	"github.com/sammcj/toolbridge/session"
	"github.com/sammcj/toolbridge/tools"
	"github.com/sammcj/toolbridge/tools/leakdetector"
)

// invocations running longer than leakThreshold are reported
const (
	leakCheckInterval = 30 * time.Second
	leakThreshold     = 2 * time.Minute
)

// closers releases resources in reverse order
type closers []io.Closer

func (c closers) Close() error {
	var errs error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Close(); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}

// newRegistry registers the built-in tools, plus query_database when a database is configured
func (a *App) newRegistry() (*provider.Registry, closers, error) {
	detector := leakdetector.New(leakCheckInterval, leakThreshold)
	res := closers{detector}

	registry := provider.NewRegistry(provider.WithTracker(detector))

	list, err := tools.Arithmetic()
	if err != nil {
		_ = res.Close()
		return nil, nil, err
	}

	if path := a.cfg.Database.Path; path != "" {
		db, err := tools.NewDatabaseTool(path)
		if err != nil {
			_ = res.Close()
			return nil, nil, err
		}
		res = append(res, db)

		query, err := db.Tool()
		if err != nil {
			_ = res.Close()
			return nil, nil, err
		}
		list = append(list, query)
	}

	if err := registry.Register(list...); err != nil {
		_ = res.Close()
		return nil, nil, err
	}
	return registry, res, nil
}

func (a *App) sessionOptions() session.Options {
	opts := session.Options{
		Timeout:       a.cfg.Provider.Timeout,
		ClientName:    "toolbridge",
		ClientVersion: Version,
	}
	if a.cfg.Provider.Busy == config.BusyFail {
		opts.Busy = session.BusyFail
	}
	return opts
}

// connect opens and initializes the session to the configured tool provider.
// The returned closer releases the session and anything it owns.
func (a *App) connect(ctx context.Context) (session.Session, io.Closer, error) {
	var (
		s   session.Session
		res closers
	)

	opts := a.sessionOptions()
	switch a.cfg.Provider.Transport {
	case config.TransportStdio:
		ms, err := session.ConnectStdio(ctx, a.command(), opts)
		if err != nil {
			return nil, nil, err
		}
		s = ms

	case config.TransportHTTP:
		hs, err := session.ConnectHTTP(ctx, a.cfg.Provider.URL, nil, opts)
		if err != nil {
			return nil, nil, err
		}
		s = hs

	default:
		registry, owned, err := a.newRegistry()
		if err != nil {
			return nil, nil, err
		}
		srv, err := mcpserver.New(ctx, registry, owned...)
		if err != nil {
			_ = owned.Close()
			return nil, nil, err
		}
		res = append(res, srv)

		ms, err := session.ConnectInProcess(ctx, srv.Server(), opts)
		if err != nil {
			_ = res.Close()
			return nil, nil, err
		}
		s = ms
	}
	res = append(res, s)

	if err := s.Initialize(ctx); err != nil {
		_ = res.Close()
		return nil, nil, err
	}

	logger.ContextKV(ctx, xlog.DEBUG, "status", "session_ready", "transport", a.cfg.Provider.Transport)
	return s, res, nil
}

func (a *App) command() session.Command {
	keys := make([]string, 0, len(a.cfg.Provider.Env))
	for k := range a.cfg.Provider.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+a.cfg.Provider.Env[k])
	}

	return session.Command{
		Path: a.cfg.Provider.Command,
		Args: a.cfg.Provider.Arguments,
		Env:  env,
	}
}
