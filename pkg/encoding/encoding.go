// Package encoding provides the pluggable codec used to persist
// object.Metadata to an IndexDB and to decode plugin/middleware config
// blobs. The default codec is swapped at process startup in main.go.
package encoding

import "sync"

// Codec marshals and unmarshals values to and from bytes.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

var (
	mu      sync.RWMutex
	codecs  = map[string]Codec{}
	current Codec
)

// Register makes a Codec available by name.
func Register(c Codec) {
	mu.Lock()
	defer mu.Unlock()
	codecs[c.Name()] = c
}

// Get returns a registered codec, or nil if name is unknown.
func Get(name string) Codec {
	mu.RLock()
	defer mu.RUnlock()
	return codecs[name]
}

// SetDefaultCodec sets the process-wide default codec.
func SetDefaultCodec(c Codec) {
	mu.Lock()
	defer mu.Unlock()
	current = c
	codecs[c.Name()] = c
}

// GetDefaultCodec returns the process-wide default codec.
func GetDefaultCodec() Codec {
	mu.RLock()
	defer mu.RUnlock()
	return current
}
