package chunkstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/zhouzirui/aaroh/backend/internal/model/practice"
)

const (
	chunkPrefix = "chunk_"
	chunkExt    = ".webm"
)

var (
	ErrInvalidSessionID = errors.New("invalid session id")
	ErrEmptyPayload     = errors.New("empty chunk payload")
	ErrInvalidSequence  = errors.New("sequence index out of range")
)

// MaxSequence is the largest sequence index a sender may assign.
const MaxSequence = 99_999_999

// Store persists raw audio fragments under <root>/<sessionID>/ in sequence order.
type Store struct {
	root string

	mu       sync.Mutex
	sessions map[string]*sessionIndex
}

type sessionIndex struct {
	mu   sync.Mutex
	next int
	seen map[int]practice.FragmentRef
}

// New prepares the storage root.
func New(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Store{root: abs, sessions: make(map[string]*sessionIndex)}, nil
}

// Root returns the absolute storage root.
func (s *Store) Root() string {
	return s.root
}

// SessionDir returns the session's private directory, creating it if needed.
func (s *Store) SessionDir(sessionID string) (string, error) {
	if err := validateSessionID(sessionID); err != nil {
		return "", err
	}
	dir := filepath.Join(s.root, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	return dir, nil
}

// Append stores payload under the session's next sequence index.
func (s *Store) Append(sessionID string, payload []byte) (practice.FragmentRef, error) {
	idx, err := s.index(sessionID)
	if err != nil {
		return practice.FragmentRef{}, err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.next > MaxSequence {
		return practice.FragmentRef{}, fmt.Errorf("%w: %d", ErrInvalidSequence, idx.next)
	}
	return s.write(sessionID, idx, idx.next, payload)
}

// AppendAt stores payload under a sender-assigned sequence index. A repeated
// index is ignored and the originally stored fragment is returned.
func (s *Store) AppendAt(sessionID string, seq int, payload []byte) (practice.FragmentRef, error) {
	if seq < 0 || seq > MaxSequence {
		return practice.FragmentRef{}, fmt.Errorf("%w: %d", ErrInvalidSequence, seq)
	}
	idx, err := s.index(sessionID)
	if err != nil {
		return practice.FragmentRef{}, err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if ref, ok := idx.seen[seq]; ok {
		return ref, nil
	}
	return s.write(sessionID, idx, seq, payload)
}

func (s *Store) write(sessionID string, idx *sessionIndex, seq int, payload []byte) (practice.FragmentRef, error) {
	if len(payload) == 0 {
		return practice.FragmentRef{}, ErrEmptyPayload
	}

	dir, err := s.SessionDir(sessionID)
	if err != nil {
		return practice.FragmentRef{}, err
	}

	path := filepath.Join(dir, chunkName(seq))
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return practice.FragmentRef{}, fmt.Errorf("write chunk %d: %w", seq, err)
	}

	ref := practice.FragmentRef{SessionID: sessionID, Seq: seq, Size: len(payload), Path: path}
	idx.seen[seq] = ref
	if seq >= idx.next {
		idx.next = seq + 1
	}
	return ref, nil
}

// ListOrdered returns the session's fragments in ascending sequence order.
// A session with nothing stored yields an empty slice.
func (s *Store) ListOrdered(sessionID string) ([]practice.FragmentRef, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}

	dir := filepath.Join(s.root, sessionID)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return []practice.FragmentRef{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list session chunks: %w", err)
	}

	refs := make([]practice.FragmentRef, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		seq, ok := parseChunkName(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// swept between ReadDir and Info
			continue
		}
		refs = append(refs, practice.FragmentRef{
			SessionID: sessionID,
			Seq:       seq,
			Size:      int(info.Size()),
			Path:      filepath.Join(dir, entry.Name()),
		})
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].Seq < refs[j].Seq })
	return refs, nil
}

// Purge deletes everything stored for the session.
func (s *Store) Purge(sessionID string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if err := os.RemoveAll(filepath.Join(s.root, sessionID)); err != nil {
		return fmt.Errorf("purge session: %w", err)
	}
	return nil
}

// Forget drops the in-memory sequence index but keeps files on disk.
func (s *Store) Forget(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}

func (s *Store) index(sessionID string) (*sessionIndex, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.sessions[sessionID]
	if !ok {
		idx = &sessionIndex{seen: make(map[int]practice.FragmentRef)}
		s.sessions[sessionID] = idx
	}
	return idx, nil
}

func chunkName(seq int) string {
	return fmt.Sprintf("%s%08d%s", chunkPrefix, seq, chunkExt)
}

func parseChunkName(name string) (int, bool) {
	if !strings.HasPrefix(name, chunkPrefix) || !strings.HasSuffix(name, chunkExt) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, chunkPrefix), chunkExt)
	seq, err := strconv.Atoi(digits)
	if err != nil || seq < 0 {
		return 0, false
	}
	return seq, true
}

// validateSessionID accepts [A-Za-z0-9_-] only. Ids end up in file paths
// and in the ffmpeg concat manifest.
func validateSessionID(sessionID string) error {
	if sessionID == "" || len(sessionID) > 128 {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}
	for _, r := range sessionID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
		}
	}
	return nil
}
