// Package fallback implements the local disk queue used while the operation store is unreachable.
//
// Each record is one JSON file named <epoch-ms>-<operationType>.json holding
// {operationType, poolAddress, payload, createdAt} plus an optional maxRetries
// ceiling. Files are written to a
// temporary name first and linked into place, so readers never observe a
// partial record.
package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/moonerfun/flywheel/internal/domain"
	"github.com/moonerfun/flywheel/internal/logger"
)

const (
	fileExt       = ".json"
	tempPrefix    = ".pending-"
	dirPerm       = 0o750
	maxNameProbes = 1000
)

// Entry is one record read back from the fallback directory.
// Err is set when the file could not be read or decoded; such files are left in place.
type Entry struct {
	Name   string
	Record domain.FallbackRecord
	Err    error
}

// Store is a directory of fallback records.
type Store struct {
	dir    string
	logger logger.Logger
	now    func() time.Time
	mu     sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for file names.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a store rooted at dir. The directory is created lazily on first write.
func New(dir string, log logger.Logger, opts ...Option) *Store {
	s := &Store{
		dir:    dir,
		logger: log.With(logger.Component("fallback")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the directory the store writes to.
func (s *Store) Dir() string {
	return s.dir
}

// Append writes rec as a new file named after its creation time and returns
// the name. A zero CreatedAt is stamped with the store clock.
func (s *Store) Append(_ context.Context, rec domain.FallbackRecord) (string, error) {
	if !rec.OperationType.IsValid() {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownOperation, rec.OperationType)
	}
	if rec.Payload == nil {
		rec.Payload = domain.PayloadMap{}
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}

	body, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal fallback record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if mkErr := os.MkdirAll(s.dir, dirPerm); mkErr != nil {
		return "", fmt.Errorf("create fallback dir: %w", mkErr)
	}

	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("create temp fallback file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, writeErr := tmp.Write(body); writeErr != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write fallback file: %w", writeErr)
	}
	if syncErr := tmp.Sync(); syncErr != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("sync fallback file: %w", syncErr)
	}
	if closeErr := tmp.Close(); closeErr != nil {
		return "", fmt.Errorf("close fallback file: %w", closeErr)
	}

	return s.linkUnique(tmpPath, rec.CreatedAt, rec.OperationType)
}

// linkUnique publishes tmpPath under the first free <epoch-ms>-<op>.json name,
// bumping the millisecond on collision.
func (s *Store) linkUnique(tmpPath string, createdAt time.Time, op domain.OperationType) (string, error) {
	ms := createdAt.UnixMilli()
	for range maxNameProbes {
		name := FileName(ms, op)
		err := os.Link(tmpPath, filepath.Join(s.dir, name))
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("publish fallback file: %w", err)
		}
		ms++
	}
	return "", fmt.Errorf("publish fallback file: no free name after %d attempts", maxNameProbes)
}

// List returns all records in creation order. A missing directory yields no entries.
func (s *Store) List(_ context.Context) ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read fallback dir: %w", err)
	}

	type named struct {
		name string
		ms   int64
	}
	files := make([]named, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || !IsRecordName(de.Name()) {
			continue
		}
		ms, _, _ := ParseFileName(de.Name())
		files = append(files, named{name: de.Name(), ms: ms})
	}
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].ms != files[j].ms {
			return files[i].ms < files[j].ms
		}
		return files[i].name < files[j].name
	})

	entries := make([]Entry, 0, len(files))
	for _, f := range files {
		entry := s.read(f.name)
		if entry.Err != nil {
			s.logger.Warn("unreadable fallback record left in place",
				logger.String("file", f.name),
				logger.Error(entry.Err),
			)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *Store) read(name string) Entry {
	entry := Entry{Name: name}

	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		entry.Err = fmt.Errorf("read %s: %w", name, err)
		return entry
	}

	if unmarshalErr := json.Unmarshal(data, &entry.Record); unmarshalErr != nil {
		entry.Err = fmt.Errorf("decode %s: %w", name, unmarshalErr)
		return entry
	}
	if !entry.Record.OperationType.IsValid() {
		entry.Err = fmt.Errorf("decode %s: %w: %q", name, domain.ErrUnknownOperation, entry.Record.OperationType)
	}
	return entry
}

// Remove deletes a record by name. Removing a file that is already gone is not an error.
func (s *Store) Remove(_ context.Context, name string) error {
	if !IsRecordName(name) {
		return fmt.Errorf("remove fallback file: invalid name %q", name)
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove fallback file: %w", err)
	}
	return nil
}

// Count returns the number of record files currently on disk.
func (s *Store) Count(_ context.Context) (int, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read fallback dir: %w", err)
	}
	n := 0
	for _, de := range dirEntries {
		if !de.IsDir() && IsRecordName(de.Name()) {
			n++
		}
	}
	return n, nil
}

// FileName builds the record file name for a creation time in epoch milliseconds.
func FileName(epochMs int64, op domain.OperationType) string {
	return strconv.FormatInt(epochMs, 10) + "-" + string(op) + fileExt
}

// ParseFileName splits a record file name into its timestamp and operation type.
func ParseFileName(name string) (int64, domain.OperationType, bool) {
	if !strings.HasSuffix(name, fileExt) {
		return 0, "", false
	}
	stem := strings.TrimSuffix(name, fileExt)
	msPart, opPart, found := strings.Cut(stem, "-")
	if !found {
		return 0, "", false
	}
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil || ms < 0 {
		return 0, "", false
	}
	op := domain.OperationType(opPart)
	if !op.IsValid() {
		return 0, "", false
	}
	return ms, op, true
}

// IsRecordName reports whether name has the record file shape.
func IsRecordName(name string) bool {
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	_, _, ok := ParseFileName(name)
	return ok
}
