package conn

import (
	"context"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/ChuLiYu/jobwatch/internal/auth"
	"github.com/ChuLiYu/jobwatch/internal/broadcast"
	"github.com/ChuLiYu/jobwatch/internal/server"
	"github.com/ChuLiYu/jobwatch/internal/snapshot"
	"github.com/ChuLiYu/jobwatch/internal/source"
	"github.com/ChuLiYu/jobwatch/pkg/types"
)

const goodInit = "hash=x&user=%7B%22id%22%3A42%7D"

type liveServer struct {
	srv *server.Server
	hub *broadcast.Hub
}

func newLiveServer(t *testing.T) *liveServer {
	t.Helper()
	hub := broadcast.NewHub(nil)
	store := snapshot.NewStore()
	snap := &types.Snapshot{Jobs: []types.JobRecord{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}}}
	store.Put(snap)
	hub.Publish(snap)

	gate := auth.NewGate(auth.Config{AllowedChatIDs: []int64{42}})
	sim := source.NewSimulated(source.SimulatedConfig{})
	return &liveServer{srv: server.New(hub, store, gate, sim, nil, server.Options{}), hub: hub}
}

func (l *liveServer) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	l.srv.CloseChannels(ctx)
}

func exerciseChannel(t *testing.T, l *liveServer, d Dialer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := d.Dial(ctx, Credentials{InitData: "garbage"})
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	_, err = d.Dial(ctx, Credentials{InitData: goodInit, ChatID: "7"})
	assert.ErrorIs(t, err, types.ErrUnauthorized, "chat id outside the allow-list")

	ch, err := d.Dial(ctx, Credentials{InitData: goodInit})
	require.NoError(t, err)
	defer ch.Close()

	snap, err := ch.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Len())
	assert.False(t, snap.FetchedAt.IsZero())

	go l.shutdown()
	_, err = ch.Recv(ctx)
	assert.ErrorIs(t, err, types.ErrServerClosed)
}

func TestWSDialerAgainstServer(t *testing.T) {
	l := newLiveServer(t)
	hs := httptest.NewServer(l.srv.Handler())
	defer hs.Close()

	exerciseChannel(t, l, &WSDialer{ServerURL: hs.URL, HandshakeTimeout: 2 * time.Second})
}

func TestWSDialerUnreachableIsTransient(t *testing.T) {
	hs := httptest.NewServer(nil)
	addr := hs.URL
	hs.Close()

	_, err := (&WSDialer{ServerURL: addr}).Dial(context.Background(), Credentials{InitData: goodInit})
	assert.ErrorIs(t, err, types.ErrTransientConnection)
}

func TestWSDialerURL(t *testing.T) {
	u, err := (&WSDialer{ServerURL: "https://example.com/base/"}).URL(Credentials{InitData: "a=b", ChatID: "9"})
	require.NoError(t, err)
	assert.Equal(t, "wss://example.com/base/ws?chat_id=9&initData=a%3Db", u)
}

func TestGRPCDialerAgainstServer(t *testing.T) {
	l := newLiveServer(t)
	lis := bufconn.Listen(1 << 20)
	gs := l.srv.NewGRPCServer()
	go gs.Serve(lis)
	defer gs.Stop()

	exerciseChannel(t, l, &GRPCDialer{
		Addr: "passthrough:///bufnet",
		Options: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		},
	})
}

func TestManagerOverWebSocket(t *testing.T) {
	l := newLiveServer(t)
	hs := httptest.NewServer(l.srv.Handler())
	defer hs.Close()

	m := NewManager(&WSDialer{ServerURL: hs.URL}, Credentials{InitData: goodInit}, Config{})
	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var got *types.Snapshot
	for got == nil {
		ev, err := m.Mailbox().Next(ctx)
		require.NoError(t, err)
		got = ev.Snapshot
	}
	assert.Equal(t, 2, got.Len())

	l.shutdown()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, types.ErrServerClosed)
	case <-ctx.Done():
		t.Fatal("manager did not stop on server close")
	}
	assert.Equal(t, StateFailed, m.State())
}
