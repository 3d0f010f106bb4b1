// Package app is the process lifecycle supervisor: it starts a list of
// transport.Server values and stops them together on SIGINT/SIGTERM or
// the first one's unrecoverable error. Mirrors a prior contrib/kratos
// App's ID/Name/Version/StopTimeout/Logger/Server option shape so
// main.go's wiring code didn't need to change, minus anything kratos
// did beyond starting/stopping the server list.
package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relaycache/relaycache/contrib/log"
	"github.com/relaycache/relaycache/contrib/transport"
)

type App struct {
	id, name, version string
	stopTimeout        time.Duration
	logger             log.Logger
	servers            []transport.Server
}

type Option func(*App)

func ID(id string) Option           { return func(a *App) { a.id = id } }
func Name(name string) Option       { return func(a *App) { a.name = name } }
func Version(v string) Option       { return func(a *App) { a.version = v } }
func StopTimeout(d time.Duration) Option {
	return func(a *App) { a.stopTimeout = d }
}
func Logger(l log.Logger) Option { return func(a *App) { a.logger = l } }
func Server(srvs ...transport.Server) Option {
	return func(a *App) { a.servers = append(a.servers, srvs...) }
}

func New(opts ...Option) *App {
	a := &App{stopTimeout: 30 * time.Second}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = log.GetLogger()
	}
	return a
}

// Run starts every configured server and blocks until SIGINT/SIGTERM or
// any server returns an error, then stops them all within StopTimeout.
func (a *App) Run() error {
	helper := log.NewHelper(a.logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eg, egCtx := errgroup.WithContext(ctx)
	for _, srv := range a.servers {
		srv := srv
		eg.Go(func() error { return srv.Start(egCtx) })
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		helper.Infof("app %s received signal %v, stopping", a.name, sig)
	case <-egCtx.Done():
		helper.Warnf("app %s server exited early: %v", a.name, egCtx.Err())
	}
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), a.stopTimeout)
	defer stopCancel()
	for _, srv := range a.servers {
		if err := srv.Stop(stopCtx); err != nil {
			helper.Errorf("app %s server stop error: %v", a.name, err)
		}
	}

	return eg.Wait()
}
