package conn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/jobwatch/internal/broadcast"
	"github.com/ChuLiYu/jobwatch/internal/wire"
	"github.com/ChuLiYu/jobwatch/pkg/types"
)

// GRPCDialer opens the Watch/Subscribe stream of a jobwatch server.
type GRPCDialer struct {
	Addr    string
	Options []grpc.DialOption // default: insecure transport credentials
}

// Dial creates a client connection, starts the stream and waits for the
// response headers, which the server only sends once the caller is
// admitted.
func (d *GRPCDialer) Dial(ctx context.Context, creds Credentials) (Channel, error) {
	opts := d.Options
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	cc, err := grpc.NewClient(d.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid grpc target: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	pairs := []string{wire.MetadataInitData, creds.InitData}
	if creds.ChatID != "" {
		pairs = append(pairs, wire.MetadataChatID, creds.ChatID)
	}
	streamCtx = metadata.AppendToOutgoingContext(streamCtx, pairs...)

	ch := &grpcChannel{cc: cc, cancel: cancel}
	fail := func(err error) (Channel, error) {
		ch.Close()
		return nil, classifyRPC(ctx, err)
	}

	stream, err := cc.NewStream(streamCtx, &wire.WatchServiceDesc.Streams[0], wire.WatchSubscribe)
	if err != nil {
		return fail(err)
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil && !errors.Is(err, io.EOF) {
		return fail(err)
	}
	if err := stream.CloseSend(); err != nil {
		return fail(err)
	}

	md, err := stream.Header()
	if err != nil {
		return fail(err)
	}
	if md == nil {
		// Trailers-only reply: the status is the answer.
		err := stream.RecvMsg(&structpb.Struct{})
		if err == nil || errors.Is(err, io.EOF) {
			err = errors.New("stream ended during handshake")
		}
		return fail(err)
	}

	ch.stream = stream
	return ch, nil
}

type grpcChannel struct {
	cc     *grpc.ClientConn
	cancel context.CancelFunc
	stream grpc.ClientStream
}

func (c *grpcChannel) Recv(ctx context.Context) (*types.Snapshot, error) {
	stop := context.AfterFunc(ctx, c.cancel)
	defer stop()

	for {
		st := &structpb.Struct{}
		if err := c.stream.RecvMsg(st); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, types.ErrServerClosed
			}
			return nil, classifyRPC(ctx, err)
		}
		snap, err := broadcast.DecodeStruct(st)
		if err != nil {
			log.Warn("Dropping malformed event", "error", err)
			continue
		}
		snap.FetchedAt = time.Now()
		return snap, nil
	}
}

func (c *grpcChannel) Close() error {
	c.cancel()
	return c.cc.Close()
}

func classifyRPC(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied:
		return types.ErrUnauthorized
	}
	return transient(err)
}
