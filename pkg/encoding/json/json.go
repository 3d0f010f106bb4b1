// Package json implements encoding.Codec with goccy/go-json, used for
// human-inspectable config and plugin payloads.
package json

import (
	"github.com/goccy/go-json"

	"github.com/relaycache/relaycache/pkg/encoding"
)

func init() {
	encoding.Register(JSONCodec{})
}

type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
