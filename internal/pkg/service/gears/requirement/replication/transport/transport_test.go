package transport_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keboola/shard-requirements/internal/pkg/log"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/replication/transport"
	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

type receivedMessage struct {
	shardID int
	bundle  []byte
}

func TestTransport(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	srvLogger := log.NewDebugLogger()
	var lock sync.Mutex
	var received []receivedMessage
	handler := func(_ context.Context, shardID int, bundle []byte) error {
		if bytes.Equal(bundle, []byte("invalid")) {
			return errors.New("invalid bundle\nsecond line")
		}
		lock.Lock()
		defer lock.Unlock()
		received = append(received, receivedMessage{shardID: shardID, bundle: bundle})
		return nil
	}

	srv, err := transport.Listen(ctx, srvLogger, "localhost:0", 16*datasize.MB, handler)
	require.NoError(t, err)

	conn, err := transport.Dial(ctx, log.NewNopLogger(), srv.Addr(), time.Second)
	require.NoError(t, err)

	// Small and bigger message
	require.NoError(t, conn.Send(ctx, 1, []byte("foo")))
	big := bytes.Repeat([]byte("0123456789"), 300_000)
	require.NoError(t, conn.Send(ctx, 3, big))

	// Rejected message
	err = conn.Send(ctx, 2, []byte("invalid"))
	var remoteErr transport.RemoteError
	require.True(t, errors.As(err, &remoteErr))
	assert.Equal(t, "replica rejected message: invalid bundle second line", err.Error())

	// Concurrent streams
	wg := &sync.WaitGroup{}
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, conn.Send(ctx, 100+i, []byte("bar")))
		}()
	}
	wg.Wait()

	lock.Lock()
	require.Len(t, received, 12)
	assert.Equal(t, receivedMessage{shardID: 1, bundle: []byte("foo")}, received[0])
	assert.Equal(t, 3, received[1].shardID)
	assert.Equal(t, big, received[1].bundle)
	lock.Unlock()
	assert.Equal(t, uint64(12), srv.Received())

	// Closed server
	require.NoError(t, srv.Close(ctx))
	assert.Eventually(t, conn.IsClosed, 5*time.Second, 10*time.Millisecond)
	require.Error(t, conn.Send(ctx, 1, []byte("foo")))
	require.NoError(t, conn.Close())

	assert.Contains(t, srvLogger.InfoMessages(), "replication receiver listening on")
	assert.Contains(t, srvLogger.InfoMessages(), "accepted connection from")
	assert.Contains(t, srvLogger.ErrorMessages(), "cannot apply message for shard 2: invalid bundle")
}

func TestDial_Refused(t *testing.T) {
	t.Parallel()

	srv, err := transport.Listen(context.Background(), log.NewNopLogger(), "localhost:0", datasize.MB, nil)
	require.NoError(t, err)
	addr := srv.Addr()
	require.NoError(t, srv.Close(context.Background()))

	_, err = transport.Dial(context.Background(), log.NewNopLogger(), addr, time.Second)
	require.Error(t, err)
}

func TestTransport_MessageTooLarge(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	srvLogger := log.NewDebugLogger()
	var lock sync.Mutex
	var received [][]byte
	handler := func(_ context.Context, _ int, bundle []byte) error {
		lock.Lock()
		defer lock.Unlock()
		received = append(received, bundle)
		return nil
	}

	srv, err := transport.Listen(ctx, srvLogger, "localhost:0", datasize.KB, handler)
	require.NoError(t, err)
	defer func() { require.NoError(t, srv.Close(ctx)) }()

	conn, err := transport.Dial(ctx, log.NewNopLogger(), srv.Addr(), time.Second)
	require.NoError(t, err)
	defer func() { require.NoError(t, conn.Close()) }()

	// Rejected before the bundle is read, bigger than the stream window
	err = conn.Send(ctx, 1, bytes.Repeat([]byte("x"), 3_000_000))
	var remoteErr transport.RemoteError
	require.True(t, errors.As(err, &remoteErr), err)
	assert.Equal(t, "replica rejected message: bundle length 3000000 exceeds limit 1KB", err.Error())

	// Limit is inclusive, the connection is still usable
	require.NoError(t, conn.Send(ctx, 1, bytes.Repeat([]byte("y"), 1024)))
	assert.False(t, conn.IsClosed())

	lock.Lock()
	require.Len(t, received, 1)
	assert.Len(t, received[0], 1024)
	lock.Unlock()
	assert.Equal(t, uint64(1), srv.Received())
	assert.Contains(t, srvLogger.ErrorMessages(), "cannot read message for shard 1: bundle length 3000000 exceeds limit")
}
