package proto

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is advertised in the gRPC content-subtype and must match what
// both client and server register.
const codecName = "json"

// jsonCodec implements google.golang.org/grpc/encoding.Codec (formerly
// grpc.Codec) over encoding/json, standing in for protoc-gen-go's
// generated protobuf marshaling — see gpuagent.proto's header comment.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("proto: marshal: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("proto: unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// CodecName is the content-subtype grpc.CallContentSubtype /
// grpc.ForceServerCodec callers should use to select this codec.
const CodecName = codecName
