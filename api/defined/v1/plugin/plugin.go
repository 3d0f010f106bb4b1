// Package plugin defines the interface a runtime-loaded plugin must
// satisfy: a transport.Server-shaped lifecycle plus the two hooks
// server.HTTPServer needs to splice it into the admin mux and the
// request handler chain.
package plugin

import (
	"context"
	"net/http"
)

// Option is the config handed to a plugin factory: the plugin's own
// name and a decoder for its options block (conf.Plugin satisfies
// this).
type Option interface {
	PluginName() string
	Unmarshal(v any) error
}

// Plugin is a loaded plugin instance. Start/Stop give it the same
// lifecycle as any other transport.Server, so main.go can run plugins
// alongside HTTPServer and CacheServer under one supervisor.
type Plugin interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// AddRouter registers the plugin's own admin endpoints (if any) on
	// the internal mux.
	AddRouter(router *http.ServeMux)

	// HandleFunc wraps next with whatever the plugin needs to observe
	// or intercept on the main request path. Returning nil leaves next
	// unwrapped.
	HandleFunc(next http.HandlerFunc) http.HandlerFunc
}
