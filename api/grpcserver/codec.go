// Package grpcserver exposes one relayer's lifecycle controller and its
// order-book view over gRPC.
//
// No protobuf code generation is involved: messages are plain structs in
// this package, carried by a JSON codec, and the service descriptor is
// written by hand.
package grpcserver

import (
	"fmt"

	"github.com/sugawarayuuta/sonnet"
	"google.golang.org/grpc/encoding"
)

const codecName = "json"

// JSONCodec implements grpc/encoding.Codec with sonnet.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) {
	data, err := sonnet.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}
	return data, nil
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	if err := sonnet.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json unmarshal: %w", err)
	}
	return nil
}

func (JSONCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(JSONCodec{})
}
