// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package datasource

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/bureau-foundation/fleetcheck/lib/compliance"
	"github.com/bureau-foundation/fleetcheck/lib/testutil"
)

func TestMain(m *testing.M) {
	// Regexes with a match timeout share a process-wide clock goroutine.
	goleak.VerifyTestMain(m, goleak.IgnoreAnyFunction("github.com/dlclark/regexp2.runClock"))
}

type memoryDigests struct {
	mu      sync.Mutex
	digests map[string]string
}

func (m *memoryDigests) SyncDigest(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.digests[name], nil
}

func (m *memoryDigests) MarkSynced(_ context.Context, name, digest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.digests[name] = digest
	return nil
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	return string(data)
}

func TestDirectorySync(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	origin := filepath.Join(root, "origin")
	working := filepath.Join(root, "working")
	testutil.WriteFiles(t, origin, map[string]string{
		"spine-1/config.yaml": "mtu: 9000\n",
		"spine-2/config.yaml": "mtu: 1500\n",
	})
	digests := &memoryDigests{digests: make(map[string]string)}
	syncer := NewSyncer(digests, 2, nil)
	source := &compliance.DataSource{Name: "lab", Type: compliance.DataSourceDirectory, Path: working, Origin: origin}

	outcome, err := syncer.SyncOne(ctx, source)
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if diff := cmp.Diff(Outcome{Source: "lab", Changed: true, Copied: 2}, outcome); diff != "" {
		t.Errorf("first sync outcome (-want +got):\n%s", diff)
	}
	if got := readFile(t, filepath.Join(working, "spine-2", "config.yaml")); got != "mtu: 1500\n" {
		t.Errorf("copied content = %q", got)
	}
	firstDigest := digests.digests["lab"]

	testutil.WriteFiles(t, origin, map[string]string{"spine-2/config.yaml": "mtu: 9000\n"})
	testutil.WriteFiles(t, working, map[string]string{"stale/config.yaml": "old\n"})
	outcome, err = syncer.SyncOne(ctx, source)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if diff := cmp.Diff(Outcome{Source: "lab", Changed: true, Copied: 1, Removed: 1}, outcome); diff != "" {
		t.Errorf("second sync outcome (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(filepath.Join(working, "stale", "config.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("stale file survived the sync: %v", err)
	}
	if digests.digests["lab"] == firstDigest {
		t.Errorf("digest not updated after an origin change")
	}

	outcome, err = syncer.SyncOne(ctx, source)
	if err != nil {
		t.Fatalf("third sync: %v", err)
	}
	if outcome.Changed || outcome.Copied != 0 {
		t.Errorf("unchanged origin produced %+v", outcome)
	}
}

func TestSyncCollectsFailures(t *testing.T) {
	root := t.TempDir()
	local := filepath.Join(root, "local")
	if err := os.MkdirAll(local, 0o755); err != nil {
		t.Fatal(err)
	}
	sources := []*compliance.DataSource{
		{Name: "d-missing-origin", Type: compliance.DataSourceDirectory, Path: filepath.Join(root, "w"), Origin: filepath.Join(root, "nope")},
		{Name: "a-local", Type: compliance.DataSourceLocal, Path: local},
		{Name: "c-unknown", Type: "git", Path: local},
		{Name: "b-missing", Type: compliance.DataSourceLocal, Path: filepath.Join(root, "absent")},
	}

	outcomes, failures := NewSyncer(&memoryDigests{digests: make(map[string]string)}, 2, nil).Sync(context.Background(), sources)
	if len(outcomes) != 1 || outcomes[0].Source != "a-local" {
		t.Errorf("outcomes = %+v, want only a-local", outcomes)
	}
	var failed []string
	for _, failure := range failures {
		failed = append(failed, failure.Source)
		var syncErr *SyncError
		if !errors.As(error(failure), &syncErr) || syncErr.Err == nil {
			t.Errorf("failure %v does not carry its cause", failure)
		}
	}
	if diff := cmp.Diff([]string{"b-missing", "c-unknown", "d-missing-origin"}, failed); diff != "" {
		t.Errorf("failed sources (-want +got):\n%s", diff)
	}
}

func TestManifestDigest(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFiles(t, root, map[string]string{"a/x": "1", "b/y": "2"})
	first, err := HashTree(root)
	if err != nil {
		t.Fatalf("HashTree: %v", err)
	}
	if len(first) != 2 || first["a/x"] == first["b/y"] {
		t.Fatalf("manifest = %v", first)
	}

	renamed := Manifest{"a/y": first["a/x"], "b/y": first["b/y"]}
	if first.Digest() == renamed.Digest() {
		t.Errorf("tree digest ignores paths")
	}
	again, err := HashTree(root)
	if err != nil {
		t.Fatalf("HashTree: %v", err)
	}
	if first.Digest() != again.Digest() {
		t.Errorf("tree digest is not deterministic")
	}
}
