package registry_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/archive"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/constraint"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/registry"
	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

type journalMock struct {
	lock    sync.Mutex
	records []string
	err     error
}

func (j *journalMock) Downloaded(_ context.Context, e registry.Entry) error {
	return j.record("downloaded " + e.Key.String())
}

func (j *journalMock) Installed(_ context.Context, e registry.Entry) error {
	return j.record("installed " + e.Key.String())
}

func (j *journalMock) Imported(_ context.Context, e registry.Entry) error {
	return j.record("imported " + e.Key.String())
}

func (j *journalMock) record(v string) error {
	j.lock.Lock()
	defer j.lock.Unlock()
	if j.err != nil {
		return j.err
	}
	j.records = append(j.records, v)
	return nil
}

func testArchive(t *testing.T) []byte {
	t.Helper()
	b, err := archive.Seal([]byte("files"), archive.NewConfig())
	require.NoError(t, err)
	return b
}

func mustSet(t *testing.T, values ...string) constraint.Set {
	t.Helper()
	set, err := constraint.ParseSet(values)
	require.NoError(t, err)
	return set
}

func TestRegistry_Lifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	journal := &journalMock{}
	r := registry.New(clk, journal)

	// Empty registry
	assert.NotNil(t, r.ListAll())
	assert.Empty(t, r.ListAll())

	entry, created := r.GetOrCreate(mustSet(t, "rejson", "redis==3"))
	assert.True(t, created)
	assert.Equal(t, constraint.Key("redis==3,rejson"), entry.Key)
	assert.Equal(t, []string{"rejson", "redis==3"}, entry.Constraints.Strings())
	assert.Equal(t, clk.Now(), entry.CreatedAt)
	assert.True(t, entry.Pending())

	// The same key, other order
	again, created := r.GetOrCreate(mustSet(t, "redis==3", "rejson"))
	assert.False(t, created)
	assert.Equal(t, entry, again)

	// Installed requires downloaded
	err := r.MarkInstalled(ctx, entry.Key)
	var transitionErr registry.InvalidTransitionError
	require.True(t, errors.As(err, &transitionErr))

	// Invalid archive is rejected
	require.Error(t, r.MarkDownloaded(ctx, entry.Key, []byte("foo")))

	require.NoError(t, r.MarkDownloaded(ctx, entry.Key, testArchive(t)))
	require.NoError(t, r.MarkInstalled(ctx, entry.Key))

	got, ok := r.Get(entry.Key)
	require.True(t, ok)
	assert.True(t, got.Downloaded)
	assert.True(t, got.Installed)
	assert.NotEmpty(t, got.Archive)

	// Repeated transitions are no-op
	require.NoError(t, r.MarkDownloaded(ctx, entry.Key, testArchive(t)))
	require.NoError(t, r.MarkInstalled(ctx, entry.Key))

	assert.Equal(t, []string{"downloaded redis==3,rejson", "installed redis==3,rejson"}, journal.records)

	// Installed entry cannot be discarded
	assert.False(t, r.Discard(entry.Key))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_JournalFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	journal := &journalMock{err: errors.New("disk full")}
	r := registry.New(clockwork.NewFakeClock(), journal)

	entry, _ := r.GetOrCreate(mustSet(t, "numpy"))
	err := r.MarkDownloaded(ctx, entry.Key, testArchive(t))
	require.Error(t, err)
	assert.Equal(t, `cannot journal download of requirement "numpy": disk full`, err.Error())

	// The transition is not visible
	got, _ := r.Get(entry.Key)
	assert.False(t, got.Downloaded)
	assert.Empty(t, got.Archive)
}

func TestRegistry_MarkDownloaded_NotFound(t *testing.T) {
	t.Parallel()

	r := registry.New(clockwork.NewFakeClock(), nil)
	err := r.MarkDownloaded(context.Background(), "foo", testArchive(t))
	var notFound registry.NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, `requirement "foo" not found`, err.Error())
}

func TestRegistry_FindAndOrder(t *testing.T) {
	t.Parallel()

	r := registry.New(clockwork.NewFakeClock(), nil)
	first, _ := r.GetOrCreate(mustSet(t, "redis==3"))
	second, _ := r.GetOrCreate(mustSet(t, "rejson", "redis>=2"))
	third, _ := r.GetOrCreate(mustSet(t, "numpy"))

	var keys []constraint.Key
	for _, e := range r.ListAll() {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []constraint.Key{first.Key, second.Key, third.Key}, keys)

	// Exact key match
	found, ok := r.Find("redis>=2,rejson")
	require.True(t, ok)
	assert.Equal(t, second.Key, found.Key)

	// By package name, the first in insertion order
	found, ok = r.Find("redis")
	require.True(t, ok)
	assert.Equal(t, first.Key, found.Key)

	_, ok = r.Find("pandas")
	assert.False(t, ok)

	// Discard pending entry
	assert.True(t, r.Discard(first.Key))
	found, ok = r.Find("redis")
	require.True(t, ok)
	assert.Equal(t, second.Key, found.Key)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_PutAndListeners(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	journal := &journalMock{}
	r := registry.New(clockwork.NewFakeClock(), journal)

	var notified []constraint.Key
	r.OnInstalled(func(_ context.Context, e registry.Entry) {
		assert.True(t, e.Installed)
		notified = append(notified, e.Key)
	})

	// Invalid archive
	_, err := r.Put(ctx, registry.Entry{Key: "redis", Archive: []byte("GRQA")})
	require.Error(t, err)
	assert.Empty(t, r.ListAll())

	imported, err := r.Put(ctx, registry.Entry{Key: "redis", Constraints: mustSet(t, "redis"), Archive: testArchive(t)})
	require.NoError(t, err)
	assert.True(t, imported.Downloaded)
	assert.True(t, imported.Installed)

	entry, _ := r.GetOrCreate(mustSet(t, "numpy"))
	require.NoError(t, r.MarkDownloaded(ctx, entry.Key, testArchive(t)))
	require.NoError(t, r.MarkInstalled(ctx, entry.Key))

	// The same archive again, nothing is journaled
	again, err := r.Put(ctx, registry.Entry{Key: "redis", Constraints: mustSet(t, "redis"), Archive: testArchive(t)})
	require.NoError(t, err)
	assert.Equal(t, imported, again)
	again, err = r.Put(ctx, registry.Entry{Key: "numpy", Constraints: mustSet(t, "numpy"), Archive: testArchive(t)})
	require.NoError(t, err)
	assert.Equal(t, constraint.Key("numpy"), again.Key)

	// Other archive replaces the entry
	other, err := archive.Seal([]byte("other files"), archive.NewConfig())
	require.NoError(t, err)
	replaced, err := r.Put(ctx, registry.Entry{Key: "redis", Constraints: mustSet(t, "redis"), Archive: other})
	require.NoError(t, err)
	assert.Equal(t, other, replaced.Archive)

	assert.Equal(t, []constraint.Key{"redis", "numpy", "redis"}, notified)
	assert.Equal(t, []string{"imported redis", "downloaded numpy", "installed numpy", "imported redis"}, journal.records)

	current, ok := r.Current("redis", other)
	assert.True(t, ok)
	assert.Equal(t, replaced, current)
	_, ok = r.Current("redis", testArchive(t))
	assert.False(t, ok)
	_, ok = r.Current("missing", other)
	assert.False(t, ok)
}

func TestRegistry_Restore(t *testing.T) {
	t.Parallel()

	journal := &journalMock{}
	r := registry.New(clockwork.NewFakeClock(), journal)
	r.Restore([]registry.Entry{
		{Key: "b", Downloaded: true, Installed: true, Archive: testArchive(t)},
		{Key: "a", Downloaded: true, Installed: true, Archive: testArchive(t)},
	})

	all := r.ListAll()
	require.Len(t, all, 2)
	assert.Equal(t, constraint.Key("b"), all[0].Key)
	assert.Equal(t, constraint.Key("a"), all[1].Key)
	assert.Empty(t, journal.records)
}

func TestRegistry_ConcurrentReaders(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := registry.New(clockwork.NewFakeClock(), nil)
	artifact := testArchive(t)

	var keys []constraint.Key
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		entry, _ := r.GetOrCreate(mustSet(t, name))
		keys = append(keys, entry.Key)
	}

	done := make(chan struct{})
	wg := &sync.WaitGroup{}
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				for _, e := range r.ListAll() {
					if e.Downloaded || e.Installed {
						assert.NotEmpty(t, e.Archive)
					}
					if e.Installed {
						assert.True(t, e.Downloaded)
					}
				}
			}
		}()
	}

	for _, key := range keys {
		require.NoError(t, r.MarkDownloaded(ctx, key, artifact))
		require.NoError(t, r.MarkInstalled(ctx, key))
	}
	close(done)
	wg.Wait()
}
