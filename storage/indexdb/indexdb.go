package indexdb

import (
	"fmt"
	"sync"

	"github.com/relaycache/relaycache/api/defined/v1/storage"
	"github.com/relaycache/relaycache/pkg/encoding"
	"github.com/relaycache/relaycache/pkg/mapstruct"
)

// Registry maps a driver name ("pebble", ...) to the factory that
// builds an IndexDB for it. Drivers register themselves from init().
type Registry struct {
	mu       sync.RWMutex
	builders map[string]storage.IndexDBFactory
}

func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]storage.IndexDBFactory)}
}

func (r *Registry) Register(name string, factory storage.IndexDBFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = factory
}

func (r *Registry) Create(name string, opt storage.Option) (storage.IndexDB, error) {
	r.mu.RLock()
	factory, ok := r.builders[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("indexdb: unknown driver %q", name)
	}
	return factory(opt.DBPath(), opt)
}

var defaultRegistry = NewRegistry()

// Register registers factory under name in the default registry.
func Register(name string, factory storage.IndexDBFactory) {
	defaultRegistry.Register(name, factory)
}

// Create builds an IndexDB using the default registry.
func Create(name string, opt storage.Option) (storage.IndexDB, error) {
	return defaultRegistry.Create(name, opt)
}

type option struct {
	codec     encoding.Codec
	dbType    string
	dbPath    string
	dbName    string
	mapConfig map[string]any
}

type Option func(*option)

func WithCodec(codec encoding.Codec) Option {
	return func(o *option) {
		o.codec = codec
	}
}

func WithType(dbType string) Option {
	return func(o *option) {
		o.dbType = dbType
	}
}

func WithDBConfig(mapConfig map[string]any) Option {
	return func(o *option) {
		o.mapConfig = mapConfig
	}
}

func NewOption(path string, opts ...Option) storage.Option {
	r := &option{
		codec:  encoding.GetDefaultCodec(),
		dbPath: path,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// DBType implements Option.
func (o *option) DBType() string {
	return o.dbType
}

// DBPath implements Option.
func (o *option) DBPath() string {
	return o.dbPath
}

func (o *option) DBName() string {
	return o.dbName
}

// Codec implements Option.
func (o *option) Codec() encoding.Codec {
	return o.codec
}

// Unmarshal implements Option.
func (o *option) Unmarshal(v interface{}) error {
	if len(o.mapConfig) <= 0 {
		return nil
	}
	return mapstruct.Decode(o.mapConfig, v)
}
