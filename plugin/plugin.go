// Package plugin is the factory registry named plugins register
// themselves into via init(), and main.go drives through Create to
// turn conf.Plugin entries into running plugin.Plugin instances.
package plugin

import (
	"fmt"
	"sync"

	pluginv1 "github.com/relaycache/relaycache/api/defined/v1/plugin"
	"github.com/relaycache/relaycache/contrib/log"
)

// Factory builds one plugin instance from its decoded options.
type Factory func(opt pluginv1.Option, logger *log.Helper) (pluginv1.Plugin, error)

var (
	mu        sync.Mutex
	factories = make(map[string]Factory)
)

// Register associates name with factory. Called from a plugin
// package's init(), e.g. plugin.Register("purge", NewPurgePlugin).
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = factory
}

// Create looks up opt's named factory and builds the plugin.
func Create(opt pluginv1.Option, logger *log.Helper) (pluginv1.Plugin, error) {
	mu.Lock()
	factory, ok := factories[opt.PluginName()]
	mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("plugin: no factory registered for %q", opt.PluginName())
	}
	return factory(opt, logger)
}
