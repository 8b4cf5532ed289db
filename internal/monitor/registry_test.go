package monitor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func testRegistry(t *testing.T, alive map[int]bool) (*Registry, *[]int) {
	t.Helper()

	var terminated []int

	r := NewRegistry(t.TempDir())
	r.pidAlive = func(_ context.Context, pid int) (bool, error) { return alive[pid], nil }
	r.terminate = func(_ context.Context, pid int) error {
		terminated = append(terminated, pid)
		return nil
	}

	return r, &terminated
}

func writeEntry(t *testing.T, r *Registry, e Entry) {
	t.Helper()

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(r.path(e.HostKey), data, 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestRegistry_RegisterAndRelease(t *testing.T) {
	r, _ := testRegistry(t, map[int]bool{os.Getpid(): true})
	s := &Session{ID: "s1", HostKey: "sm_*", StartedAt: time.Unix(100, 0)}

	release, err := r.Register(s)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if filepath.Base(r.path("sm_*")) != "sm__.json" {
		t.Errorf("path = %s", r.path("sm_*"))
	}

	entries, err := r.List(context.Background())
	if err != nil || len(entries) != 1 || entries[0].PID != os.Getpid() || entries[0].HostKey != "sm_*" {
		t.Fatalf("List() = %+v, %v", entries, err)
	}

	release()

	if _, err := os.Stat(r.path("sm_*")); !os.IsNotExist(err) {
		t.Fatal("release left the entry behind")
	}
}

func TestRegistry_ReleaseKeepsNewerOwner(t *testing.T) {
	r, _ := testRegistry(t, nil)

	release, err := r.Register(&Session{ID: "old", HostKey: "h"})
	if err != nil {
		t.Fatal(err)
	}

	writeEntry(t, r, Entry{HostKey: "h", SessionID: "new", PID: 99})
	release()

	if _, err := os.Stat(r.path("h")); err != nil {
		t.Fatal("release removed another session's entry")
	}
}

func TestRegistry_ListDropsStale(t *testing.T) {
	r, _ := testRegistry(t, map[int]bool{10: true})
	writeEntry(t, r, Entry{HostKey: "b", PID: 10})
	writeEntry(t, r, Entry{HostKey: "a", PID: 11})

	if err := os.WriteFile(filepath.Join(r.dir, "junk.json"), []byte("{"), 0o600); err != nil {
		t.Fatal(err)
	}

	entries, err := r.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(entries) != 1 || entries[0].HostKey != "b" {
		t.Fatalf("List() = %+v", entries)
	}

	files, _ := filepath.Glob(filepath.Join(r.dir, "*.json"))
	if len(files) != 1 {
		t.Fatalf("stale files kept: %v", files)
	}
}

func TestRegistry_Stop(t *testing.T) {
	r, terminated := testRegistry(t, map[int]bool{10: true})
	writeEntry(t, r, Entry{HostKey: "h", PID: 10})

	ok, err := r.Stop(context.Background(), "h")
	if err != nil || !ok {
		t.Fatalf("Stop() = %v, %v", ok, err)
	}

	if !slices.Equal(*terminated, []int{10}) {
		t.Fatalf("terminated = %v", *terminated)
	}

	ok, err = r.Stop(context.Background(), "h")
	if err != nil || ok {
		t.Fatalf("second Stop() = %v, %v", ok, err)
	}
}

func TestRegistry_StopDeadProcess(t *testing.T) {
	r, terminated := testRegistry(t, nil)
	writeEntry(t, r, Entry{HostKey: "h", PID: 10})

	ok, err := r.Stop(context.Background(), "h")
	if err != nil || ok || len(*terminated) != 0 {
		t.Fatalf("Stop() = %v, %v, terminated %v", ok, err, *terminated)
	}
}

func TestRegistry_StopAll(t *testing.T) {
	r, terminated := testRegistry(t, map[int]bool{10: true, 11: true})
	writeEntry(t, r, Entry{HostKey: "a", PID: 10})
	writeEntry(t, r, Entry{HostKey: "b", PID: 11})
	writeEntry(t, r, Entry{HostKey: "c", PID: 12})

	n, err := r.StopAll(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("StopAll() = %d, %v", n, err)
	}

	if !slices.Equal(*terminated, []int{10, 11}) {
		t.Fatalf("terminated = %v", *terminated)
	}
}
