package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/domain"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/logging"
)

// DataFileName is the JSON document kept under the data directory.
const DataFileName = "store.json"

type fileData struct {
	// Courses are keyed by user id.
	Courses map[string][]domain.Course `json:"courses"`
	Notes   []domain.VoiceNote         `json:"notes"`
}

// FileStore keeps everything in one JSON file. It suits a single local
// user; every write rewrites the file.
type FileStore struct {
	mu     sync.RWMutex
	path   string
	data   fileData
	logger logging.Logger
	now    func() time.Time
}

// OpenFile loads or creates the store under dir.
func OpenFile(dir string, logger logging.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("data directory is required for the file store")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	if logger == nil {
		logger = logging.Nop()
	}

	s := &FileStore{path: filepath.Join(dir, DataFileName), logger: logger, now: time.Now}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = fileData{Courses: map[string][]domain.Course{}}

	file, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			return s.saveLocked()
		}
		return fmt.Errorf("decode store file: %w", err)
	}
	if s.data.Courses == nil {
		s.data.Courses = map[string][]domain.Course{}
	}
	return nil
}

// saveLocked writes through a temp file and rename. Callers hold mu.
func (s *FileStore) saveLocked() error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.data); err != nil {
		tmp.Close()
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}

// CreateVoiceNote appends note.
func (s *FileStore) CreateVoiceNote(ctx context.Context, note *domain.VoiceNote) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := prepareNote(note, s.now()); err != nil {
		return err
	}
	for _, existing := range s.data.Notes {
		if existing.ID == note.ID {
			return fmt.Errorf("%w: voice note %s", ErrDuplicateID, note.ID)
		}
	}

	s.data.Notes = append(s.data.Notes, *note)
	if err := s.saveLocked(); err != nil {
		s.data.Notes = s.data.Notes[:len(s.data.Notes)-1]
		return err
	}
	return nil
}

// ListVoiceNotes returns a user's notes, newest first.
func (s *FileStore) ListVoiceNotes(ctx context.Context, userID string, status domain.NoteStatus) ([]domain.VoiceNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.VoiceNote
	for _, n := range s.data.Notes {
		if n.UserID != userID || (status != "" && n.Status != status) {
			continue
		}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ListCourses returns a copy of a user's courses in the order they were
// first added. Replacing a course keeps its position.
func (s *FileStore) ListCourses(ctx context.Context, userID string) ([]domain.Course, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]domain.Course{}, s.data.Courses[userID]...), nil
}

// UpsertCourse creates or replaces a course by id.
func (s *FileStore) UpsertCourse(ctx context.Context, userID string, c domain.Course) error {
	if err := validCourse(c); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.data.Courses[userID]
	replaced := false
	for i := range list {
		if list[i].ID == c.ID {
			list[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, c)
	}
	s.data.Courses[userID] = list
	return s.saveLocked()
}

// Ping reports whether the backing file is still readable.
func (s *FileStore) Ping(ctx context.Context) error {
	_, err := os.Stat(s.path)
	return err
}

// Close is a no-op; every write is already on disk.
func (s *FileStore) Close() error {
	return nil
}
