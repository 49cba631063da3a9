// Package wire holds the names and descriptors shared by the server and the
// client: HTTP headers and routes, WebSocket close handling and the
// hand-written gRPC service descriptor of the Watch stream.
package wire

import (
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
)

// HTTP headers and query parameters carrying the identity assertion.
const (
	HeaderInitData = "X-Telegram-Init-Data"
	HeaderChatID   = "X-Chat-Id"
	QueryInitData  = "initData"
	QueryAuthAlias = "_auth"
	QueryChatID    = "chat_id"
)

// gRPC metadata keys (lower case, as gRPC requires).
const (
	MetadataInitData = "x-telegram-init-data"
	MetadataChatID   = "x-chat-id"
)

// Routes.
const (
	PathHealth  = "/health"
	PathMetrics = "/metrics"
	PathWS      = "/ws"
	PathJobs    = "/api/jobs"
)

// Transport names, used in metrics and flags.
const (
	TransportWS   = "ws"
	TransportGRPC = "grpc"
)

// CloseReasonShutdown is the WebSocket close text sent on server shutdown.
const CloseReasonShutdown = "server shutting down"

// ErrorBody is the JSON body of every non-2xx reply.
type ErrorBody struct {
	Error string `json:"error"`
}

// UnauthorizedBody is the exact body of a 403 reply.
const UnauthorizedBody = "Unauthorized"

// DeleteRequest is the body of the delete endpoint.
type DeleteRequest struct {
	DeleteFiles bool `json:"delete_files"`
}

// PriorityRequest is the body of the file priority endpoint. A missing
// priority means normal.
type PriorityRequest struct {
	FileIDs  []int `json:"file_ids"`
	Priority *int  `json:"priority"`
}

// ============================================================================
// gRPC Watch service
//
//   service Watch {
//     rpc Subscribe(google.protobuf.Empty) returns (stream google.protobuf.Struct);
//   }
//
// Events are the JSON frame of a snapshot mapped onto a Struct. The server
// sends response headers once the caller is admitted, so a client can
// treat a successful Header() as a completed handshake.
// ============================================================================

const (
	WatchServiceName = "jobwatch.v1.Watch"
	WatchSubscribe   = "/jobwatch.v1.Watch/Subscribe"
	watchProtoFile   = "jobwatch/v1/watch.proto"
)

// WatchServer is implemented by the server side of the Watch service.
type WatchServer interface {
	Subscribe(req *emptypb.Empty, stream grpc.ServerStream) error
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(WatchServer).Subscribe(in, stream)
}

// WatchServiceDesc describes the Watch service to grpc.Server and to
// grpc.ClientConn.NewStream.
var WatchServiceDesc = grpc.ServiceDesc{
	ServiceName: WatchServiceName,
	HandlerType: (*WatchServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: watchProtoFile,
}

// RegisterWatchServer registers srv on s.
func RegisterWatchServer(s grpc.ServiceRegistrar, srv WatchServer) {
	s.RegisterService(&WatchServiceDesc, srv)
}
