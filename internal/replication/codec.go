// Package replication provides the gRPC-based control-plane RPCs for
// physical replication slots: creation, LSN advance and removal. This
// package stops at those three operations — it never streams WAL itself,
// that is the archiver/receiver's job.
//
// Rather than generating message types with protoc, this package
// registers a JSON grpc/encoding.Codec and hand-writes a grpc.ServiceDesc,
// the same shape protoc-gen-go-grpc would emit but encoding request/
// response structs as JSON instead of protobuf wire format. This keeps
// the dependency on google.golang.org/grpc genuine (real ServiceDesc,
// real client/server plumbing) without vendoring generated descriptor
// bytes this module has no way to regenerate.
package replication

import "encoding/json"

const codecName = "json"

// jsonCodec implements encoding.Codec (google.golang.org/grpc/encoding)
// by marshaling messages as JSON instead of protobuf wire format.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}
