// Package cbor implements encoding.Codec with fxamacker/cbor, a compact
// binary encoding, registered under the name "cbor" when imported.
package cbor

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/relaycache/relaycache/pkg/encoding"
)

func init() {
	encoding.Register(Codec{})
}

type Codec struct{}

func (Codec) Name() string { return "cbor" }

func (Codec) Marshal(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}
