package chunkstore

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"pgregory.net/rapid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New err: %v", err)
	}
	return store
}

func TestAppendAssignsIncreasingSequence(t *testing.T) {
	store := newTestStore(t)

	for i, payload := range []string{"a", "bb", "ccc"} {
		ref, err := store.Append("s1", []byte(payload))
		if err != nil {
			t.Fatalf("Append err: %v", err)
		}
		if ref.Seq != i {
			t.Fatalf("expected seq %d, got %d", i, ref.Seq)
		}
		if ref.Size != len(payload) {
			t.Fatalf("expected size %d, got %d", len(payload), ref.Size)
		}
	}

	refs, err := store.ListOrdered("s1")
	if err != nil {
		t.Fatalf("ListOrdered err: %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("expected 3 fragments, got %d", len(refs))
	}
	data, err := os.ReadFile(refs[2].Path)
	if err != nil {
		t.Fatalf("ReadFile err: %v", err)
	}
	if string(data) != "ccc" {
		t.Fatalf("unexpected payload %q", data)
	}
}

func TestListOrderedSortsOutOfOrderAppends(t *testing.T) {
	store := newTestStore(t)

	for _, seq := range []int{3, 1, 2} {
		if _, err := store.AppendAt("s1", seq, []byte{byte(seq)}); err != nil {
			t.Fatalf("AppendAt(%d) err: %v", seq, err)
		}
	}

	refs, err := store.ListOrdered("s1")
	if err != nil {
		t.Fatalf("ListOrdered err: %v", err)
	}
	want := []int{1, 2, 3}
	if len(refs) != len(want) {
		t.Fatalf("expected %d refs, got %d", len(want), len(refs))
	}
	for i, ref := range refs {
		if ref.Seq != want[i] {
			t.Fatalf("position %d: expected seq %d, got %d", i, want[i], ref.Seq)
		}
	}

	next, err := store.Append("s1", []byte("tail"))
	if err != nil {
		t.Fatalf("Append err: %v", err)
	}
	if next.Seq != 4 {
		t.Fatalf("expected receipt-assigned seq to follow highest index, got %d", next.Seq)
	}
}

func TestListOrderedNumericBeyondPadding(t *testing.T) {
	store := newTestStore(t)
	dir, err := store.SessionDir("s1")
	if err != nil {
		t.Fatalf("SessionDir err: %v", err)
	}
	// Names that would sort wrongly as strings.
	for _, name := range []string{"chunk_10.webm", "chunk_9.webm", "chunk_100.webm", "inputs.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("WriteFile err: %v", err)
		}
	}

	refs, err := store.ListOrdered("s1")
	if err != nil {
		t.Fatalf("ListOrdered err: %v", err)
	}
	if len(refs) != 3 || refs[0].Seq != 9 || refs[1].Seq != 10 || refs[2].Seq != 100 {
		t.Fatalf("unexpected order: %+v", refs)
	}
}

func TestAppendAtDuplicateIsIgnored(t *testing.T) {
	store := newTestStore(t)

	first, err := store.AppendAt("s1", 0, []byte("first"))
	if err != nil {
		t.Fatalf("AppendAt err: %v", err)
	}
	again, err := store.AppendAt("s1", 0, []byte("second"))
	if err != nil {
		t.Fatalf("AppendAt err: %v", err)
	}
	if again != first {
		t.Fatalf("expected original ref, got %+v", again)
	}

	data, err := os.ReadFile(first.Path)
	if err != nil {
		t.Fatalf("ReadFile err: %v", err)
	}
	if string(data) != "first" {
		t.Fatalf("duplicate overwrote payload: %q", data)
	}
}

func TestListOrderedEmptySession(t *testing.T) {
	store := newTestStore(t)

	refs, err := store.ListOrdered("never-written")
	if err != nil {
		t.Fatalf("ListOrdered err: %v", err)
	}
	if refs == nil || len(refs) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", refs)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Append("s1", []byte("one")); err != nil {
		t.Fatalf("Append err: %v", err)
	}
	if _, err := store.Append("s2", []byte("two")); err != nil {
		t.Fatalf("Append err: %v", err)
	}

	refs, err := store.ListOrdered("s2")
	if err != nil {
		t.Fatalf("ListOrdered err: %v", err)
	}
	if len(refs) != 1 || refs[0].Seq != 0 {
		t.Fatalf("expected a single fragment for s2, got %+v", refs)
	}
}

func TestPurgeRemovesSession(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Append("s1", []byte("one")); err != nil {
		t.Fatalf("Append err: %v", err)
	}
	if err := store.Purge("s1"); err != nil {
		t.Fatalf("Purge err: %v", err)
	}

	refs, err := store.ListOrdered("s1")
	if err != nil {
		t.Fatalf("ListOrdered err: %v", err)
	}
	if len(refs) != 0 {
		t.Fatalf("expected no fragments after purge, got %d", len(refs))
	}

	ref, err := store.Append("s1", []byte("again"))
	if err != nil {
		t.Fatalf("Append err: %v", err)
	}
	if ref.Seq != 0 {
		t.Fatalf("expected sequence to restart after purge, got %d", ref.Seq)
	}
}

func TestRejectsInvalidInput(t *testing.T) {
	store := newTestStore(t)

	for _, id := range []string{"", ".", "..", "a/b", `a\b`, " padded", "line\nbreak", "tab\there", "quote'id", "nul\x00"} {
		if _, err := store.Append(id, []byte("x")); !errors.Is(err, ErrInvalidSessionID) {
			t.Fatalf("Append(%q): expected ErrInvalidSessionID, got %v", id, err)
		}
	}
	if _, err := store.Append("s1", nil); !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("expected ErrEmptyPayload, got %v", err)
	}
	if _, err := store.AppendAt("s1", -1, []byte("x")); !errors.Is(err, ErrInvalidSequence) {
		t.Fatalf("expected ErrInvalidSequence, got %v", err)
	}
}

func TestAppendAtRejectsSequenceOutOfRange(t *testing.T) {
	store := newTestStore(t)

	for _, seq := range []int{MaxSequence + 1, math.MaxInt} {
		if _, err := store.AppendAt("s1", seq, []byte("x")); !errors.Is(err, ErrInvalidSequence) {
			t.Fatalf("AppendAt(%d): expected ErrInvalidSequence, got %v", seq, err)
		}
	}

	// A rejected index must not move the receipt counter.
	ref, err := store.Append("s1", []byte("y"))
	if err != nil {
		t.Fatalf("Append err: %v", err)
	}
	if ref.Seq != 0 {
		t.Fatalf("expected seq 0, got %d", ref.Seq)
	}
}

func TestAppendAfterHighestSequenceStaysListed(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.AppendAt("s1", MaxSequence-1, []byte("a")); err != nil {
		t.Fatalf("AppendAt err: %v", err)
	}
	ref, err := store.Append("s1", []byte("b"))
	if err != nil {
		t.Fatalf("Append err: %v", err)
	}
	if ref.Seq != MaxSequence {
		t.Fatalf("expected seq %d, got %d", MaxSequence, ref.Seq)
	}
	if _, err := store.Append("s1", []byte("c")); !errors.Is(err, ErrInvalidSequence) {
		t.Fatalf("expected ErrInvalidSequence once the index space is used up, got %v", err)
	}

	refs, err := store.ListOrdered("s1")
	if err != nil {
		t.Fatalf("ListOrdered err: %v", err)
	}
	if len(refs) != 2 || refs[1].Seq != MaxSequence {
		t.Fatalf("every stored fragment must be listed, got %+v", refs)
	}
}

func TestListOrderedAnyPermutation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		store, err := New(filepath.Join(os.TempDir(), "chunkstore-rapid"))
		if err != nil {
			t.Fatalf("New err: %v", err)
		}
		sessionID := rapid.StringMatching(`[a-z0-9]{12}`).Draw(t, "session")
		defer store.Purge(sessionID)

		n := rapid.IntRange(1, 25).Draw(t, "n")
		seqs := rapid.Permutation(makeRange(n)).Draw(t, "order")
		for _, seq := range seqs {
			if _, err := store.AppendAt(sessionID, seq, []byte{1}); err != nil {
				t.Fatalf("AppendAt err: %v", err)
			}
		}

		refs, err := store.ListOrdered(sessionID)
		if err != nil {
			t.Fatalf("ListOrdered err: %v", err)
		}
		if len(refs) != n {
			t.Fatalf("expected %d refs, got %d", n, len(refs))
		}
		for i, ref := range refs {
			if ref.Seq != i {
				t.Fatalf("position %d holds seq %d", i, ref.Seq)
			}
		}
	})
}

func makeRange(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
