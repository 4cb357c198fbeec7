package inferclient

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is registered as a gRPC content-subtype so the gRPC
// transport can carry the same request structs (inferRequest) the HTTP
// transport uses, without generating protobuf bindings.
const jsonCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return jsonCodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
