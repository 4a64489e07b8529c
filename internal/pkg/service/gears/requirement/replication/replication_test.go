package replication_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keboola/shard-requirements/internal/pkg/service/gears/dependencies"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/replication"
	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

type testApplier struct {
	lock     sync.Mutex
	received []replication.Message
	reject   int
}

func (a *testApplier) ApplyReplicated(_ context.Context, shardID int, bundle []byte) error {
	if shardID == a.reject {
		return errors.New("invalid bundle")
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	a.received = append(a.received, replication.Message{ShardID: shardID, Bundle: bundle})
	return nil
}

func (a *testApplier) Received() []replication.Message {
	a.lock.Lock()
	defer a.lock.Unlock()
	return append([]replication.Message(nil), a.received...)
}

type staticSource []replication.Message

func (s staticSource) ReplicationMessages(context.Context) ([]replication.Message, error) {
	return s, nil
}

func testConfig() replication.Config {
	cfg := replication.NewConfig()
	cfg.Listen = "localhost:0"
	cfg.DialTimeout = time.Second
	cfg.RetryMaxInterval = 50 * time.Millisecond
	return cfg
}

func TestPropagator_ResyncAndDeliver(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	replicaDeps := dependencies.NewMockedServiceScope(t)
	applier := &testApplier{reject: -1}
	receiver, err := replication.NewReceiver(ctx, replicaDeps, testConfig(), applier)
	require.NoError(t, err)
	defer func() { assert.NoError(t, receiver.Close(ctx)) }()

	primaryDeps := dependencies.NewMockedServiceScope(t)
	cfg := testConfig()
	cfg.Replicas = []string{receiver.Addr()}
	source := staticSource{{ShardID: 0, Bundle: []byte("installed")}}
	propagator, err := replication.NewPropagator(ctx, primaryDeps, cfg, source)
	require.NoError(t, err)

	propagator.Enqueue(replication.Message{ShardID: 1, Bundle: []byte("foo")})
	propagator.Enqueue(replication.Message{ShardID: 2, Bundle: []byte("bar")})

	assert.Eventually(t, func() bool {
		return len(applier.Received()) == 3
	}, 10*time.Second, 10*time.Millisecond)

	// The resync runs first, queued messages keep their order
	received := applier.Received()
	assert.Equal(t, []byte("installed"), received[0].Bundle)
	assert.Equal(t, replication.Message{ShardID: 1, Bundle: []byte("foo")}, received[1])
	assert.Equal(t, replication.Message{ShardID: 2, Bundle: []byte("bar")}, received[2])
	assert.Equal(t, uint64(3), propagator.Delivered(receiver.Addr()))
	assert.Equal(t, uint64(3), receiver.Received())
	assert.Equal(t, 0, propagator.Pending())

	propagator.Close(ctx)
	assert.Contains(t, primaryDeps.DebugLogger().InfoMessages(), "closed propagator")
}

func TestPropagator_Rejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	replicaDeps := dependencies.NewMockedServiceScope(t)
	applier := &testApplier{reject: 9}
	receiver, err := replication.NewReceiver(ctx, replicaDeps, testConfig(), applier)
	require.NoError(t, err)
	defer func() { assert.NoError(t, receiver.Close(ctx)) }()

	primaryDeps := dependencies.NewMockedServiceScope(t)
	cfg := testConfig()
	cfg.Replicas = []string{receiver.Addr()}
	propagator, err := replication.NewPropagator(ctx, primaryDeps, cfg, staticSource{})
	require.NoError(t, err)
	defer propagator.Close(ctx)

	propagator.Enqueue(replication.Message{ShardID: 9, Bundle: []byte("invalid")})
	propagator.Enqueue(replication.Message{ShardID: 1, Bundle: []byte("valid")})

	assert.Eventually(t, func() bool {
		return len(applier.Received()) == 1
	}, 10*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return propagator.Pending() == 0
	}, 10*time.Second, 10*time.Millisecond)

	assert.Equal(t, []byte("valid"), applier.Received()[0].Bundle)
	assert.Contains(t, primaryDeps.DebugLogger().ErrorMessages(), "replica rejected requirement of shard 9: invalid bundle")
}

func TestPropagator_ReplicaUnavailable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// Reserve an address, the replica is started later
	replicaDeps := dependencies.NewMockedServiceScope(t)
	applier := &testApplier{reject: -1}
	receiver, err := replication.NewReceiver(ctx, replicaDeps, testConfig(), applier)
	require.NoError(t, err)
	addr := receiver.Addr()
	require.NoError(t, receiver.Close(ctx))

	primaryDeps := dependencies.NewMockedServiceScope(t)
	cfg := testConfig()
	cfg.Replicas = []string{addr}
	propagator, err := replication.NewPropagator(ctx, primaryDeps, cfg, staticSource{{ShardID: 0, Bundle: []byte("installed")}})
	require.NoError(t, err)
	defer propagator.Close(ctx)

	// Enqueue never blocks
	propagator.Enqueue(replication.Message{ShardID: 1, Bundle: []byte("foo")})
	assert.Equal(t, 1, propagator.Pending())

	// Start the replica
	replicaCfg := testConfig()
	replicaCfg.Listen = addr
	receiver, err = replication.NewReceiver(ctx, replicaDeps, replicaCfg, applier)
	require.NoError(t, err)
	defer func() { assert.NoError(t, receiver.Close(ctx)) }()

	assert.Eventually(t, func() bool {
		return len(applier.Received()) == 2
	}, 10*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, propagator.Pending())
}
