package version_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/kbsync/version"
)

func newManager(t *testing.T) (*version.Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "versions.json")
	m, err := version.New(path, version.Config{})
	if err != nil {
		t.Fatalf("version.New: %v", err)
	}
	return m, path
}

func TestUpdateAndGet(t *testing.T) {
	m, _ := newManager(t)

	if _, ok := m.Get("src-a"); ok {
		t.Fatal("Get on empty manager reported a version")
	}

	info := version.Info{ContentHash: "h1", ETag: `"v1"`, URL: "https://example.com"}
	if err := m.Update("src-a", info); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, ok := m.Get("src-a")
	if !ok {
		t.Fatal("version missing after Update")
	}
	if got.ContentHash != "h1" || got.ETag != `"v1"` {
		t.Errorf("got %+v", got)
	}
	if got.FetchedAt.IsZero() {
		t.Error("FetchedAt not defaulted")
	}
}

func TestHasChanged(t *testing.T) {
	m, _ := newManager(t)

	if !m.HasChanged("unknown", "h1", "") {
		t.Error("unknown source should report changed")
	}

	m.Update("src-a", version.Info{ContentHash: "h1"})
	if m.HasChanged("src-a", "h1", "") {
		t.Error("same hash reported as changed")
	}
	if !m.HasChanged("src-a", "h2", "") {
		t.Error("different hash not reported as changed")
	}
}

func TestHasChangedTimestamp(t *testing.T) {
	// WHAT: with matching hashes, a differing Last-Modified still counts as
	// changed; the comparison is skipped when either side has no timestamp.
	m, _ := newManager(t)
	m.Update("src-a", version.Info{ContentHash: "h1", LastModified: "Wed, 01 Jan 2025 00:00:00 GMT"})

	if m.HasChanged("src-a", "h1", "Wed, 01 Jan 2025 00:00:00 GMT") {
		t.Error("same hash and timestamp reported as changed")
	}
	if !m.HasChanged("src-a", "h1", "Thu, 02 Jan 2025 00:00:00 GMT") {
		t.Error("differing timestamp not reported as changed")
	}
	if m.HasChanged("src-a", "h1", "") {
		t.Error("missing fetch timestamp should skip the comparison")
	}

	m.Update("src-b", version.Info{ContentHash: "h1"})
	if m.HasChanged("src-b", "h1", "Wed, 01 Jan 2025 00:00:00 GMT") {
		t.Error("missing recorded timestamp should skip the comparison")
	}
}

func TestPersistsAcrossReload(t *testing.T) {
	m, path := newManager(t)
	m.Update("src-a", version.Info{ContentHash: "h1", FetchedAt: time.Now().UTC()})
	m.Update("src-b", version.Info{ContentHash: "h2"})
	m.Delete("src-b")

	// WHAT: a fresh manager over the same file sees exactly the flushed state.
	m2, err := version.New(path, version.Config{})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got, ok := m2.Get("src-a"); !ok || got.ContentHash != "h1" {
		t.Errorf("src-a after reload: %+v ok=%v", got, ok)
	}
	if _, ok := m2.Get("src-b"); ok {
		t.Error("deleted source survived reload")
	}
}

func TestCorruptFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "versions.json")
	os.WriteFile(path, []byte("{not json"), 0o644)
	if _, err := version.New(path, version.Config{}); err == nil {
		t.Fatal("expected error for corrupt version file")
	}
}

func TestAllReturnsCopy(t *testing.T) {
	m, _ := newManager(t)
	m.Update("src-a", version.Info{ContentHash: "h1"})

	all := m.All()
	all["src-a"] = version.Info{ContentHash: "mutated"}

	if got, _ := m.Get("src-a"); got.ContentHash != "h1" {
		t.Error("All exposed internal map")
	}
}
