// Package registry provides the per-shard table of requirements and their install status.
//
// Readers always get an immutable Entry, so a reader never observes a flag without the archive.
// Mutations of one key are serialized, the Journal is written before a new value is visible.
package registry

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/archive"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/constraint"
	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
	"github.com/keboola/shard-requirements/internal/pkg/utils/syncmap"
)

// Journal durably records state transitions.
// A method returns after the record is persisted.
type Journal interface {
	Downloaded(ctx context.Context, entry Entry) error
	Installed(ctx context.Context, entry Entry) error
	Imported(ctx context.Context, entry Entry) error
}

type Listener func(ctx context.Context, entry Entry)

type Registry struct {
	clock   clockwork.Clock
	journal Journal

	lock    sync.RWMutex
	entries map[constraint.Key]Entry
	order   []constraint.Key

	keyLocks *syncmap.SyncMap[constraint.Key, sync.Mutex]

	listenersLock sync.RWMutex
	listeners     []Listener
}

type nopJournal struct{}

func (nopJournal) Downloaded(context.Context, Entry) error { return nil }
func (nopJournal) Installed(context.Context, Entry) error  { return nil }
func (nopJournal) Imported(context.Context, Entry) error   { return nil }

func New(clock clockwork.Clock, journal Journal) *Registry {
	if journal == nil {
		journal = nopJournal{}
	}
	return &Registry{
		clock:    clock,
		journal:  journal,
		entries:  make(map[constraint.Key]Entry),
		keyLocks: syncmap.New[constraint.Key, sync.Mutex](func(constraint.Key) *sync.Mutex { return &sync.Mutex{} }),
	}
}

// OnInstalled registers a listener invoked each time a key becomes installed, including imports.
// Listeners must not block.
func (r *Registry) OnInstalled(fn Listener) {
	r.listenersLock.Lock()
	defer r.listenersLock.Unlock()
	r.listeners = append(r.listeners, fn)
}

// GetOrCreate returns the existing entry or creates a pending one.
// The second value is true if the entry has been created.
func (r *Registry) GetOrCreate(set constraint.Set) (Entry, bool) {
	key := set.Key()

	r.lock.Lock()
	defer r.lock.Unlock()

	if entry, ok := r.entries[key]; ok {
		return entry, false
	}

	entry := Entry{
		Key:         key,
		Constraints: set.Unique(),
		CreatedAt:   r.clock.Now().UTC(),
	}
	r.setLocked(entry)
	return entry, true
}

func (r *Registry) Get(key constraint.Key) (Entry, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	entry, ok := r.entries[key]
	return entry, ok
}

// Find returns the entry with the exact key, or the first entry in insertion order
// that contains a constraint for the package name.
func (r *Registry) Find(name string) (Entry, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	if entry, ok := r.entries[constraint.Key(name)]; ok {
		return entry, true
	}
	for _, key := range r.order {
		if entry := r.entries[key]; entry.Constraints.HasPackage(name) {
			return entry, true
		}
	}
	return Entry{}, false
}

// ListAll returns all entries in insertion order, the slice is empty, not nil, if there is no entry.
func (r *Registry) ListAll() []Entry {
	r.lock.RLock()
	defer r.lock.RUnlock()

	out := make([]Entry, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.entries[key])
	}
	return out
}

func (r *Registry) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.order)
}

// MarkDownloaded attaches the archive to a pending entry.
// It is a no-op if the entry is already downloaded, for example by a concurrent import.
func (r *Registry) MarkDownloaded(ctx context.Context, key constraint.Key, artifact []byte) error {
	unlock := r.lockKey(key)
	defer unlock()

	entry, ok := r.Get(key)
	if !ok {
		return NotFoundError{Key: key}
	}
	if entry.Downloaded {
		return nil
	}
	if err := archive.Validate(artifact); err != nil {
		return errors.PrefixErrorf(err, `cannot mark requirement "%s" as downloaded`, key)
	}

	entry.Downloaded = true
	entry.Archive = artifact
	if err := r.journal.Downloaded(ctx, entry); err != nil {
		return errors.PrefixErrorf(err, `cannot journal download of requirement "%s"`, key)
	}

	r.set(entry)
	return nil
}

// MarkInstalled marks a downloaded entry as installed.
func (r *Registry) MarkInstalled(ctx context.Context, key constraint.Key) error {
	unlock := r.lockKey(key)
	defer unlock()

	entry, ok := r.Get(key)
	if !ok {
		return NotFoundError{Key: key}
	}
	if entry.Installed {
		return nil
	}
	if !entry.Downloaded {
		return InvalidTransitionError{Key: key, Reason: "the requirement is not downloaded"}
	}

	entry.Installed = true
	if err := r.journal.Installed(ctx, entry); err != nil {
		return errors.PrefixErrorf(err, `cannot journal install of requirement "%s"`, key)
	}

	r.set(entry)
	r.notify(ctx, entry)
	return nil
}

// Put stores an imported entry, it is marked as downloaded and installed at once.
// An existing entry with the same key is replaced.
func (r *Registry) Put(ctx context.Context, entry Entry) (Entry, error) {
	if entry.Key == "" {
		return Entry{}, errors.New("requirement key is empty")
	}
	if err := archive.Validate(entry.Archive); err != nil {
		return Entry{}, errors.PrefixErrorf(err, `cannot import requirement "%s"`, entry.Key)
	}

	unlock := r.lockKey(entry.Key)
	defer unlock()

	// Repeated import of the same artifact, for example a resync of the replica
	if existing, ok := r.Current(entry.Key, entry.Archive); ok {
		return existing, nil
	}

	if existing, ok := r.Get(entry.Key); ok && !existing.CreatedAt.IsZero() && entry.CreatedAt.IsZero() {
		entry.CreatedAt = existing.CreatedAt
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.clock.Now().UTC()
	}
	entry.Downloaded = true
	entry.Installed = true

	if err := r.journal.Imported(ctx, entry); err != nil {
		return Entry{}, errors.PrefixErrorf(err, `cannot journal import of requirement "%s"`, entry.Key)
	}

	r.set(entry)
	r.notify(ctx, entry)
	return entry, nil
}

// Current returns the installed entry, if it holds an archive with the same checksum.
func (r *Registry) Current(key constraint.Key, artifact []byte) (Entry, bool) {
	existing, ok := r.Get(key)
	if !ok || !existing.Installed {
		return Entry{}, false
	}
	expected, err := archive.Checksum(artifact)
	if err != nil {
		return Entry{}, false
	}
	actual, err := archive.Checksum(existing.Archive)
	if err != nil || actual != expected {
		return Entry{}, false
	}
	return existing, true
}

// Discard removes a pending entry after a failed install. Installed entries are kept.
func (r *Registry) Discard(key constraint.Key) bool {
	unlock := r.lockKey(key)
	defer unlock()

	r.lock.Lock()
	defer r.lock.Unlock()

	entry, ok := r.entries[key]
	if !ok || entry.Installed {
		return false
	}

	delete(r.entries, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Restore replaces the content of the registry by persisted entries, nothing is journaled.
func (r *Registry) Restore(entries []Entry) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.entries = make(map[constraint.Key]Entry, len(entries))
	r.order = nil
	for _, entry := range entries {
		r.setLocked(entry)
	}
}

func (r *Registry) lockKey(key constraint.Key) (unlock func()) {
	l := r.keyLocks.GetOrInit(key)
	l.Lock()
	return l.Unlock
}

func (r *Registry) set(entry Entry) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.setLocked(entry)
}

func (r *Registry) setLocked(entry Entry) {
	if _, ok := r.entries[entry.Key]; !ok {
		r.order = append(r.order, entry.Key)
	}
	r.entries[entry.Key] = entry
}

func (r *Registry) notify(ctx context.Context, entry Entry) {
	r.listenersLock.RLock()
	listeners := r.listeners
	r.listenersLock.RUnlock()

	for _, fn := range listeners {
		fn(ctx, entry)
	}
}
