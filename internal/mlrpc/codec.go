package mlrpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is registered once via init and selected per-call with
// grpc.CallContentSubtype(jsonCodecName). Full protoc-generated
// message types are not produced in this build (no toolchain
// invocation generates them — see DESIGN.md); the client instead
// carries plain Go structs over grpc's JSON codec, exercising grpc's
// real connection/stream/retry machinery without fabricating
// hand-written .pb.go stand-ins.
const jsonCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
