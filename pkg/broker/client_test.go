package broker

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spamwatch/spamwatch/pkg/config"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewWithClient(rdb)
}

func TestAppendReadAck(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	require.NoError(t, c.Append(ctx, StreamEvent, "user_create", []byte(`{"user_id":7}`)))

	msg, err := c.ReadOne(ctx, StreamEvent, -1)
	require.NoError(t, err)
	assert.Equal(t, "user_create", msg.Kind)
	assert.JSONEq(t, `{"user_id":7}`, string(msg.Payload))
	assert.NotEmpty(t, msg.ID)

	require.NoError(t, c.Ack(ctx, StreamEvent, msg.ID))

	_, err = c.ReadOne(ctx, StreamEvent, -1)
	assert.ErrorIs(t, err, ErrNoMessages)
}

func TestReadOneEmptyStream(t *testing.T) {
	c := newTestClient(t)

	_, err := c.ReadOne(context.Background(), StreamVerification, -1)
	assert.ErrorIs(t, err, ErrNoMessages)
}

func TestUnackedRecordIsRedelivered(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	require.NoError(t, c.Append(ctx, StreamRetrieval, "issue_open", []byte(`{"a":1}`)))

	first, err := c.ReadOne(ctx, StreamRetrieval, -1)
	require.NoError(t, err)

	// Not acked: the same record comes back on the next read.
	second, err := c.ReadOne(ctx, StreamRetrieval, -1)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Payload, second.Payload)
}

func TestReadPreservesFIFO(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	require.NoError(t, c.Append(ctx, StreamEvent, "user_create", []byte(`{"n":1}`)))
	require.NoError(t, c.Append(ctx, StreamEvent, "user_rename", []byte(`{"n":2}`)))

	first, err := c.ReadOne(ctx, StreamEvent, -1)
	require.NoError(t, err)
	assert.Equal(t, "user_create", first.Kind)
	require.NoError(t, c.Ack(ctx, StreamEvent, first.ID))

	second, err := c.ReadOne(ctx, StreamEvent, -1)
	require.NoError(t, err)
	assert.Equal(t, "user_rename", second.Kind)
}

func TestLen(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	n, err := c.Len(ctx, StreamEvent)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, c.Append(ctx, StreamEvent, "group_create", []byte(`{}`)))
	require.NoError(t, c.Append(ctx, StreamEvent, "group_rename", []byte(`{}`)))

	n, err = c.Len(ctx, StreamEvent)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestConnectDirectMode(t *testing.T) {
	mr := miniredis.RunT(t)

	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	cfg := config.BrokerConfig{
		Mode: config.BrokerModeDirect,
		Host: mr.Host(),
		Port: port,
	}

	c, err := Connect(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Append(context.Background(), StreamEvent, "user_create", []byte(`{}`)))
}

func TestConnectUnreachableBroker(t *testing.T) {
	cfg := config.BrokerConfig{
		Mode: config.BrokerModeDirect,
		Host: "localhost",
		Port: 1, // nothing listens here
	}

	_, err := Connect(context.Background(), cfg)
	assert.Error(t, err)
}
