package publish

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/keithlinneman/sitedrop/internal/site"
	"github.com/keithlinneman/sitedrop/internal/store"
)

var fixedNow = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

// zipBytes builds an in-memory archive from name/body pairs
func zipBytes(t *testing.T, pairs ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i := 0; i+1 < len(pairs); i += 2 {
		w, err := zw.Create(pairs[i])
		if err != nil {
			t.Fatalf("zip create %q: %v", pairs[i], err)
		}
		if _, err := io.WriteString(w, pairs[i+1]); err != nil {
			t.Fatalf("zip write %q: %v", pairs[i], err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

type fixture struct {
	c      *Coordinator
	root   string
	mem    *store.Memory
	store  *faultStore
	mirror *fakeMirror
	met    *fakeMetrics
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	base := t.TempDir()
	f := &fixture{
		root:   filepath.Join(base, "sites"),
		mem:    store.NewMemory(),
		mirror: &fakeMirror{},
		met:    &fakeMetrics{},
	}
	f.store = &faultStore{Memory: f.mem}

	opts := Options{
		Store:    f.store,
		Root:     f.root,
		SpoolDir: filepath.Join(base, "spool"),
		Mirror:   f.mirror,
		Metrics:  f.met,
		Now:      func() time.Time { return fixedNow },
	}
	for _, m := range mutate {
		m(&opts)
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.c = c
	return f
}

func (f *fixture) publish(t *testing.T, filename, alias string, body []byte) (Published, error) {
	t.Helper()
	return f.c.Publish(context.Background(), Request{
		OwnerID:  "owner-1",
		Filename: filename,
		Alias:    alias,
		Body:     bytes.NewReader(body),
	})
}

// assertInvariant checks every site directory has a record and vice versa
func (f *fixture) assertInvariant(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.root)
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	for _, e := range entries {
		ok, _ := f.mem.Exists(context.Background(), e.Name())
		if !ok {
			t.Errorf("directory %q has no record", e.Name())
		}
	}
	if f.mem.Len() != len(entries) {
		t.Errorf("records = %d, directories = %d", f.mem.Len(), len(entries))
	}
}

func (f *fixture) assertEmpty(t *testing.T) {
	t.Helper()
	f.assertInvariant(t)
	if f.mem.Len() != 0 {
		t.Fatalf("records = %d, want 0", f.mem.Len())
	}
	spool, _ := os.ReadDir(f.c.opts.SpoolDir)
	if len(spool) != 0 {
		t.Fatalf("spool dir not empty: %d entries", len(spool))
	}
}

func assertKind(t *testing.T, err error, want Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("err = nil, want %s", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("kind = %q, want %q (err: %v)", got, want, err)
	}
}

// faultStore wraps Memory with injectable failures
type faultStore struct {
	*store.Memory
	existsErr error
	insertErr error
	deleteErr error
	getErr    error
	pingErr   error
	onInsert  func()
}

func (s *faultStore) Ping(ctx context.Context) error {
	if s.pingErr != nil {
		return s.pingErr
	}
	return s.Memory.Ping(ctx)
}

func (s *faultStore) Exists(ctx context.Context, id string) (bool, error) {
	if s.existsErr != nil {
		return false, s.existsErr
	}
	return s.Memory.Exists(ctx, id)
}

func (s *faultStore) Insert(ctx context.Context, rec site.Site) error {
	if s.onInsert != nil {
		s.onInsert()
	}
	if s.insertErr != nil {
		return s.insertErr
	}
	return s.Memory.Insert(ctx, rec)
}

func (s *faultStore) Get(ctx context.Context, id string) (site.Site, error) {
	if s.getErr != nil {
		return site.Site{}, s.getErr
	}
	return s.Memory.Get(ctx, id)
}

func (s *faultStore) Delete(ctx context.Context, id, ownerID string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.Memory.Delete(ctx, id, ownerID)
}

type fakeMirror struct {
	mu      sync.Mutex
	putErr  error
	puts    map[string]string
	deletes []string
}

func (m *fakeMirror) Put(_ context.Context, s site.Site, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if m.puts == nil {
		m.puts = make(map[string]string)
	}
	m.puts[s.ID] = string(b)
	return nil
}

func (m *fakeMirror) Delete(_ context.Context, s site.Site) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, s.ID)
	return nil
}

type fakeMetrics struct {
	mu           sync.Mutex
	outcomes     []string
	deletes      []string
	mirrorErrors []string
}

func (m *fakeMetrics) ObservePublish(_ site.Kind, outcome string, _ float64, _ int64) {
	m.mu.Lock()
	m.outcomes = append(m.outcomes, outcome)
	m.mu.Unlock()
}

func (m *fakeMetrics) IncDelete(outcome string) {
	m.mu.Lock()
	m.deletes = append(m.deletes, outcome)
	m.mu.Unlock()
}

func (m *fakeMetrics) IncMirrorError(op string) {
	m.mu.Lock()
	m.mirrorErrors = append(m.mirrorErrors, op)
	m.mu.Unlock()
}

// errReader fails after yielding some bytes, like a dropped connection
type errReader struct {
	data []byte
	err  error
}

func (r *errReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

var errBoom = errors.New("boom")
