package pubsub

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/crawler-sentinel/internal/event"
)

func newFakeServer(t *testing.T) *pstest.Server {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

// dial opens a fresh connection per client since closing a client closes its connection.
func dial(t *testing.T, srv *pstest.Server) []option.ClientOption {
	t.Helper()
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return []option.ClientOption{option.WithGRPCConn(conn)}
}

func TestPublishMirrorsEvent(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer(t)

	client, err := pubsub.NewClient(ctx, "project-id", dial(t, srv)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	topic, err := client.CreateTopic(ctx, "detections")
	require.NoError(t, err)

	pub := NewWithTopic(topic)
	evt := event.New("site-1", "GPTBot/1.0", "203.0.113.1", "/", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, pub.Publish(ctx, evt))
	require.NoError(t, pub.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "site-1", msgs[0].Attributes["site_id"])
	got, err := event.Unmarshal(msgs[0].Data)
	require.NoError(t, err)
	require.Equal(t, evt, got)
}

func TestNewRequiresExistingTopic(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer(t)

	_, err := New(ctx, "", "detections", dial(t, srv)...)
	require.Error(t, err)

	_, err = New(ctx, "project-id", "missing", dial(t, srv)...)
	require.ErrorContains(t, err, "does not exist")

	client, err := pubsub.NewClient(ctx, "project-id", dial(t, srv)...)
	require.NoError(t, err)
	_, err = client.CreateTopic(ctx, "detections")
	require.NoError(t, err)
	require.NoError(t, client.Close())

	pub, err := New(ctx, "project-id", "detections", dial(t, srv)...)
	require.NoError(t, err)
	require.NoError(t, pub.Close())
}

func TestPublishWithoutTopic(t *testing.T) {
	t.Parallel()

	require.Error(t, (&Publisher{}).Publish(context.Background(), event.ClassificationEvent{}))
}
