package fs

import (
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	gw, err := NewGateway(t.TempDir(), log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return gw
}

func TestWriteFileStaysUnderRoot(t *testing.T) {
	gw := newTestGateway(t)

	rel, err := gw.WriteFile("./snapshots/run-1.geojson", []byte(`{"type":"FeatureCollection"}`))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if rel != "snapshots/run-1.geojson" {
		t.Fatalf("normalized = %q", rel)
	}
	if _, err := os.Stat(filepath.Join(gw.Root(), "snapshots", "run-1.geojson")); err != nil {
		t.Fatalf("stat written file: %v", err)
	}

	got, err := gw.ReadFile(rel)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != `{"type":"FeatureCollection"}` {
		t.Fatalf("content = %q", got)
	}

	if _, err := gw.WriteFile(rel, []byte("{}")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(gw.Root(), "snapshots"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected temp files to be cleaned up, got %d entries", len(entries))
	}
}

func TestWriteFileRejectsEscape(t *testing.T) {
	gw := newTestGateway(t)
	for _, p := range []string{"../outside.csv", "a/../../outside.csv", "", "."} {
		if _, err := gw.WriteFile(p, []byte("x")); err == nil {
			t.Fatalf("expected %q to be rejected", p)
		}
	}
	if _, err := gw.WriteFile("../x", nil); !errors.Is(err, ErrPathEscapesRoot) {
		t.Fatalf("err = %v, want ErrPathEscapesRoot", err)
	}
	// a leading slash is treated as relative to the root
	if rel, err := gw.WriteFile("/tasks.csv", []byte("x")); err != nil || rel != "tasks.csv" {
		t.Fatalf("rooted path = %q, %v", rel, err)
	}
}
