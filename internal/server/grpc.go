package server

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/ChuLiYu/jobwatch/internal/auth"
	"github.com/ChuLiYu/jobwatch/internal/wire"
)

// WatchService implements wire.WatchServer on top of the server's hub.
type WatchService struct {
	s *Server
}

// Watch returns the gRPC Watch service of s.
func (s *Server) Watch() *WatchService {
	return &WatchService{s: s}
}

// NewGRPCServer returns a grpc.Server with the Watch service registered.
func (s *Server) NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	gs := grpc.NewServer(opts...)
	wire.RegisterWatchServer(gs, s.Watch())
	return gs
}

func metadataValue(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// Subscribe streams snapshot events until the client goes away or the
// server shuts down. Shutdown ends the stream with an OK status, which the
// client sees as io.EOF.
func (w *WatchService) Subscribe(_ *emptypb.Empty, stream grpc.ServerStream) error {
	s := w.s
	md, _ := metadata.FromIncomingContext(stream.Context())

	chatID, err := auth.ParseChatID(metadataValue(md, wire.MetadataChatID))
	if err == nil {
		_, err = s.gate.Authenticate(metadataValue(md, wire.MetadataInitData), chatID)
	}
	if err != nil {
		s.metrics.RecordAuthRejection("channel")
		log.Info("gRPC channel rejected", "reason", err)
		return status.Error(codes.Unauthenticated, wire.UnauthorizedBody)
	}

	sub, ok := s.admit(wire.TransportGRPC)
	if !ok {
		return nil
	}
	defer s.release(sub)

	if err := stream.SendHeader(metadata.Pairs("x-channel-id", sub.ID)); err != nil {
		return err
	}

	ctx := stream.Context()
	for {
		select {
		case ev := <-sub.Events():
			st, err := ev.Struct()
			if err != nil {
				log.Error("Encode snapshot struct failed", "error", err)
				continue
			}
			if err := stream.SendMsg(st); err != nil {
				return err
			}
		case <-sub.Closed():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
