package statusapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/kbsync/cache"
	"github.com/hazyhaar/kbsync/checkpoint"
	"github.com/hazyhaar/kbsync/dbopen"
	"github.com/hazyhaar/kbsync/statusapi"
	_ "modernc.org/sqlite"
)

func newService(t *testing.T) (*statusapi.Service, *cache.Cache, *checkpoint.Manager) {
	t.Helper()
	c, err := cache.New(dbopen.OpenMemory(t), cache.Config{})
	if err != nil {
		t.Fatal(err)
	}
	ckpt := checkpoint.New(filepath.Join(t.TempDir(), "ckpt.jsonl"), nil)
	return statusapi.New(statusapi.Config{Cache: c, Checkpoints: ckpt}), c, ckpt
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s: %v (%s)", path, err, rec.Body.String())
		}
	}
	return rec, body
}

func TestHealthz(t *testing.T) {
	svc, _, _ := newService(t)
	rec, body := get(t, svc.Router(), "/healthz")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("code=%d body=%v", rec.Code, body)
	}
}

func TestStats(t *testing.T) {
	svc, c, _ := newService(t)
	ctx := context.Background()
	c.CacheContent(ctx, &cache.Entry{SourceID: "s1", ContentHash: "h1", SizeBytes: 10})
	c.MarkProcessed(ctx, "s1", true, "")

	rec, body := get(t, svc.Router(), "/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	cacheStats, ok := body["cache"].(map[string]any)
	if !ok {
		t.Fatalf("body = %v", body)
	}
	if cacheStats["entries"].(float64) != 1 || cacheStats["processed"].(float64) != 1 {
		t.Errorf("cache stats = %v", cacheStats)
	}
	// No store configured: no embeddings key at all.
	if _, present := body["embeddings"]; present {
		t.Error("embeddings reported without a store")
	}
}

func TestDuplicates(t *testing.T) {
	svc, c, _ := newService(t)
	ctx := context.Background()
	c.IsDuplicate(ctx, "h1", "s1")
	c.IsDuplicate(ctx, "h1", "s2")
	c.IsDuplicate(ctx, "h1", "s3")

	rec, body := get(t, svc.Router(), "/duplicates?top=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if body["processing_saved"].(float64) != 2 {
		t.Errorf("processing_saved = %v", body["processing_saved"])
	}
	top := body["top"].([]any)
	if len(top) != 1 {
		t.Fatalf("top = %v", top)
	}
	group := top[0].(map[string]any)
	if group["count"].(float64) != 3 || group["source_count"].(float64) != 3 {
		t.Errorf("group = %v", group)
	}
}

func TestCheckpoints(t *testing.T) {
	svc, _, ckpt := newService(t)
	ckpt.Write(checkpoint.Checkpoint{RunID: "r1", Stage: "init", Status: checkpoint.StatusCompleted})
	ckpt.Write(checkpoint.Checkpoint{RunID: "r2", Stage: "init", Status: checkpoint.StatusStarted})

	_, body := get(t, svc.Router(), "/checkpoints")
	if body["count"].(float64) != 2 {
		t.Errorf("count = %v", body["count"])
	}

	_, body = get(t, svc.Router(), "/checkpoints?run=r1")
	if body["count"].(float64) != 1 {
		t.Errorf("filtered count = %v", body["count"])
	}

	_, body = get(t, svc.Router(), "/checkpoints?latest=1")
	if body["run_id"] != "r2" {
		t.Errorf("latest = %v", body)
	}
}

func TestCheckpointsFilteredBySource(t *testing.T) {
	svc, _, ckpt := newService(t)
	ckpt.Write(checkpoint.Checkpoint{RunID: "r1", SourceID: "s1", Stage: "fetch", Status: checkpoint.StatusCompleted})
	ckpt.Write(checkpoint.Checkpoint{RunID: "r1", SourceID: "s1", Stage: "parse", Status: checkpoint.StatusCompleted})
	ckpt.Write(checkpoint.Checkpoint{RunID: "r1", SourceID: "s2", Stage: "fetch", Status: checkpoint.StatusFailed, Error: "timeout"})

	_, body := get(t, svc.Router(), "/checkpoints?source=s1")
	if body["count"].(float64) != 2 {
		t.Errorf("count = %v", body["count"])
	}

	_, body = get(t, svc.Router(), "/checkpoints?source=s2&latest=1")
	if body["stage"] != "fetch" || body["status"] != checkpoint.StatusFailed {
		t.Errorf("latest for s2 = %v", body)
	}
}

func TestLogsFilteredBySource(t *testing.T) {
	svc, c, _ := newService(t)
	ctx := context.Background()
	c.LogOperation(ctx, "s1", "processed", "3 documents")
	c.LogOperation(ctx, "s2", "skipped", "duplicate")

	_, body := get(t, svc.Router(), "/logs")
	if body["count"].(float64) != 2 {
		t.Errorf("count = %v", body["count"])
	}

	_, body = get(t, svc.Router(), "/logs?source=s2&limit=10")
	if body["count"].(float64) != 1 {
		t.Fatalf("filtered count = %v", body["count"])
	}
	entry := body["logs"].([]any)[0].(map[string]any)
	if entry["operation"] != "skipped" {
		t.Errorf("entry = %v", entry)
	}
}
