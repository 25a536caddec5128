package controller

import (
	"encoding/json"

	"google.golang.org/grpc"
	structpb "google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName = "lamport.TraceCollector"
	streamName  = "Stream"
	streamPath  = "/" + serviceName + "/" + streamName
)

// CollectorServer receives a client stream of trace events. The first message
// of every stream is a hello carrying the node id; each following message is
// one trace.Event. The server answers with a single empty message.
type CollectorServer interface {
	Stream(grpc.ServerStream) error
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*CollectorServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    streamName,
			Handler:       streamHandler,
			ClientStreams: true,
		},
	},
	Metadata: "lamport/collector.proto",
}

func streamHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(CollectorServer).Stream(stream)
}

// Register adds the collector service to a gRPC server.
func Register(s grpc.ServiceRegistrar, srv CollectorServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type hello struct {
	Node string `json:"node"`
}

func encodeStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func decodeStruct(s *structpb.Struct, v any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
