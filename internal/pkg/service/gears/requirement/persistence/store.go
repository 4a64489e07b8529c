// Package persistence stores the requirement registry of a shard: a snapshot file and an append-only journal.
//
// Each journal record is fsynced before the transition is acknowledged.
// A snapshot contains the full state, the journal is truncated after the snapshot is written.
// On load, the snapshot is read and the journal is replayed on top of it.
package persistence

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"

	"github.com/keboola/shard-requirements/internal/pkg/log"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/constraint"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/requirement/registry"
	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

const (
	SnapshotFile = "requirements.snapshot"
	LogFile      = "requirements.log"
	LockFile     = "requirements.lock"
	snapshotTmp  = SnapshotFile + ".tmp"
	logFileFlags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	filePerm     = 0o640
)

const (
	kindDownloaded = "downloaded"
	kindInstalled  = "installed"
	kindImported   = "imported"
	kindRegistered = "registered"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// State is the persisted content of one shard.
type State struct {
	Entries       []registry.Entry        `json:"entries"`
	Registrations []registry.Registration `json:"registrations"`
}

type record struct {
	Kind         string                 `json:"kind"`
	Entry        *registry.Entry        `json:"entry,omitempty"`
	Registration *registry.Registration `json:"registration,omitempty"`
}

// Store implements registry.Journal.
type Store struct {
	logger log.Logger
	fs     afero.Fs
	config Config
	dir    string

	fsLock *flock.Flock

	lock    sync.Mutex
	logFile afero.File
	state   *stateMap
	closed  bool
}

type dependencies interface {
	Logger() log.Logger
	Fs() afero.Fs
}

// Open the shard directory and load the persisted state.
func Open(ctx context.Context, d dependencies, cfg Config, dir string) (*Store, error) {
	s := &Store{
		logger: d.Logger().WithComponent("requirement.persistence").With(attribute.String("persistence.dir", dir)),
		fs:     d.Fs(),
		config: cfg,
		dir:    dir,
		state:  newStateMap(),
	}

	if err := s.fs.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.PrefixErrorf(err, `cannot create directory "%s"`, dir)
	}

	// Only one process can use the directory
	if _, ok := s.fs.(*afero.OsFs); ok {
		s.fsLock = flock.New(filepath.Join(dir, LockFile))
		if locked, err := s.fsLock.TryLock(); err != nil {
			return nil, errors.PrefixErrorf(err, `cannot acquire lock "%s"`, s.fsLock.Path())
		} else if !locked {
			return nil, errors.Errorf(`cannot acquire lock "%s": already locked`, s.fsLock.Path())
		}
	}

	if err := s.load(ctx); err != nil {
		s.unlock()
		return nil, err
	}

	logFile, err := s.fs.OpenFile(s.path(LogFile), logFileFlags, filePerm)
	if err != nil {
		s.unlock()
		return nil, errors.PrefixErrorf(err, `cannot open journal "%s"`, s.path(LogFile))
	}
	s.logFile = logFile

	s.logger.Infof(ctx, `loaded %d requirements and %d registrations`, len(s.state.order), len(s.state.registrations))
	return s, nil
}

// State returns the loaded state.
func (s *Store) State() State {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state.export()
}

func (s *Store) Downloaded(ctx context.Context, entry registry.Entry) error {
	return s.append(ctx, record{Kind: kindDownloaded, Entry: &entry})
}

func (s *Store) Installed(ctx context.Context, entry registry.Entry) error {
	// The archive has been written by the "downloaded" record
	entry.Archive = nil
	return s.append(ctx, record{Kind: kindInstalled, Entry: &entry})
}

func (s *Store) Imported(ctx context.Context, entry registry.Entry) error {
	return s.append(ctx, record{Kind: kindImported, Entry: &entry})
}

func (s *Store) Registered(ctx context.Context, reg registry.Registration) error {
	return s.append(ctx, record{Kind: kindRegistered, Registration: &reg})
}

// Snapshot writes the full state atomically and truncates the journal.
func (s *Store) Snapshot(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return errors.New("persistence store is closed")
	}

	payload, err := json.Marshal(s.state.export())
	if err != nil {
		return err
	}

	// Write and sync temporary file, then rename it
	tmpPath := s.path(snapshotTmp)
	if err := s.writeSynced(tmpPath, appendFrame(nil, payload)); err != nil {
		return errors.PrefixErrorf(err, `cannot write snapshot "%s"`, tmpPath)
	}
	if err := s.fs.Rename(tmpPath, s.path(SnapshotFile)); err != nil {
		return errors.PrefixErrorf(err, `cannot rename snapshot "%s"`, tmpPath)
	}

	// The journal content is included in the snapshot
	if err := s.logFile.Close(); err != nil {
		return err
	}
	logFile, err := s.fs.OpenFile(s.path(LogFile), logFileFlags|os.O_TRUNC, filePerm)
	if err != nil {
		return errors.PrefixErrorf(err, `cannot truncate journal "%s"`, s.path(LogFile))
	}
	s.logFile = logFile

	s.logger.Infof(ctx, `written snapshot of %d requirements`, len(s.state.order))
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	errs := errors.NewMultiError()
	if err := s.logFile.Close(); err != nil {
		errs.Append(err)
	}
	if err := s.unlock(); err != nil {
		errs.Append(err)
	}

	s.logger.Debug(ctx, "closed persistence store")
	return errs.ErrorOrNil()
}

func (s *Store) append(ctx context.Context, r record) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return errors.New("persistence store is closed")
	}
	if err := s.state.validate(r); err != nil {
		return err
	}

	if err := writeFull(s.logFile, appendFrame(nil, payload)); err != nil {
		return errors.PrefixErrorf(err, `cannot write journal "%s"`, s.path(LogFile))
	}
	if err := s.logFile.Sync(); err != nil {
		return errors.PrefixErrorf(err, `cannot sync journal "%s"`, s.path(LogFile))
	}

	if err := s.state.apply(r); err != nil {
		return err
	}

	s.logger.Debugf(ctx, `journaled "%s" record`, r.Kind)
	return nil
}

func (s *Store) load(ctx context.Context) error {
	// Snapshot
	snapshotPath := s.path(SnapshotFile)
	content, err := afero.ReadFile(s.fs, snapshotPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// First start
	case err != nil:
		return errors.PrefixErrorf(err, `cannot read snapshot "%s"`, snapshotPath)
	default:
		payload, n, err := readFrame(content)
		if err != nil || n != len(content) {
			reason := "unexpected trailing data"
			if err != nil {
				reason = err.Error()
			}
			return PersistenceCorruptError{Path: snapshotPath, Reason: reason}
		}
		var state State
		if err := json.Unmarshal(payload, &state); err != nil {
			return PersistenceCorruptError{Path: snapshotPath, Reason: err.Error()}
		}
		s.state.restore(state)
	}

	// Journal
	logPath := s.path(LogFile)
	content, err = afero.ReadFile(s.fs, logPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return errors.PrefixErrorf(err, `cannot read journal "%s"`, logPath)
	}

	offset := 0
	for offset < len(content) {
		payload, n, err := readFrame(content[offset:])
		if errors.Is(err, errTruncated) {
			if !s.config.AllowTruncatedLog {
				return PersistenceCorruptError{Path: logPath, Offset: int64(offset), Reason: err.Error()}
			}
			s.logger.Warnf(ctx, `dropped incomplete journal record at offset %d, %d bytes`, offset, len(content)-offset)
			return s.truncateLog(offset)
		} else if err != nil {
			return PersistenceCorruptError{Path: logPath, Offset: int64(offset), Reason: err.Error()}
		}

		var r record
		if err := json.Unmarshal(payload, &r); err != nil {
			return PersistenceCorruptError{Path: logPath, Offset: int64(offset), Reason: err.Error()}
		}
		if err := s.state.apply(r); err != nil {
			return PersistenceCorruptError{Path: logPath, Offset: int64(offset), Reason: err.Error()}
		}
		offset += n
	}
	return nil
}

func (s *Store) truncateLog(size int) error {
	f, err := s.fs.OpenFile(s.path(LogFile), os.O_WRONLY, filePerm)
	if err != nil {
		return err
	}
	if err := f.Truncate(int64(size)); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *Store) writeSynced(path string, content []byte) error {
	f, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return err
	}
	if err := writeFull(f, content); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *Store) unlock() error {
	if s.fsLock == nil {
		return nil
	}
	if err := s.fsLock.Unlock(); err != nil {
		return errors.PrefixErrorf(err, `cannot release lock "%s"`, s.fsLock.Path())
	}
	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// stateMap is the in-memory mirror of the persisted state, it always matches the snapshot plus the journal.
type stateMap struct {
	entries       map[constraint.Key]registry.Entry
	order         []constraint.Key
	registrations []registry.Registration
	registered    map[string]struct{}
}

func newStateMap() *stateMap {
	return &stateMap{
		entries:    make(map[constraint.Key]registry.Entry),
		registered: make(map[string]struct{}),
	}
}

func (m *stateMap) restore(state State) {
	for _, entry := range state.Entries {
		m.set(entry)
	}
	for _, reg := range state.Registrations {
		m.register(reg)
	}
}

func (m *stateMap) validate(r record) error {
	switch r.Kind {
	case kindDownloaded, kindImported, kindInstalled:
		if r.Entry == nil {
			return errors.Errorf(`"%s" record without entry`, r.Kind)
		}
		if r.Kind == kindInstalled {
			if existing, ok := m.entries[r.Entry.Key]; !ok || !existing.Downloaded {
				return errors.Errorf(`requirement "%s" installed before download`, r.Entry.Key)
			}
		}
	case kindRegistered:
		if r.Registration == nil {
			return errors.Errorf(`"%s" record without registration`, r.Kind)
		}
	default:
		return errors.Errorf(`unexpected record kind "%s"`, r.Kind)
	}
	return nil
}

func (m *stateMap) apply(r record) error {
	if err := m.validate(r); err != nil {
		return err
	}

	switch r.Kind {
	case kindDownloaded, kindImported:
		m.set(*r.Entry)
	case kindInstalled:
		existing := m.entries[r.Entry.Key]
		existing.Installed = true
		m.set(existing)
	case kindRegistered:
		m.register(*r.Registration)
	}
	return nil
}

// register skips a registration already present.
// The journal is truncated after the snapshot is renamed, so a crash in between replays records the snapshot contains.
func (m *stateMap) register(reg registry.Registration) {
	if _, ok := m.registered[reg.ID]; ok {
		return
	}
	m.registered[reg.ID] = struct{}{}
	m.registrations = append(m.registrations, reg)
}

func (m *stateMap) set(entry registry.Entry) {
	if _, ok := m.entries[entry.Key]; !ok {
		m.order = append(m.order, entry.Key)
	}
	m.entries[entry.Key] = entry
}

func (m *stateMap) export() State {
	state := State{
		Entries:       make([]registry.Entry, 0, len(m.order)),
		Registrations: make([]registry.Registration, len(m.registrations)),
	}
	for _, key := range m.order {
		state.Entries = append(state.Entries, m.entries[key])
	}
	copy(state.Registrations, m.registrations)
	return state
}
