// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// WriteTree materializes files under root. Keys are slash-separated relative
// paths, values are file contents. Parent directories are created as needed.
func WriteTree(t *testing.T, root string, files map[string]string) {
	t.Helper()

	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("creating parent dir for %s: %v", rel, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("writing %s: %v", rel, err)
		}
	}
}

// ReadTree reads every regular file under root into a map keyed by
// slash-separated relative path. Empty directories are ignored, so two trees
// compare equal iff their file sets and file contents match.
func ReadTree(t *testing.T, root string) map[string]string {
	t.Helper()

	files := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return readErr
		}
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("reading tree %s: %v", root, err)
	}
	return files
}

// AssertTreesEqual fails the test unless the trees rooted at want and got
// contain exactly the same files with exactly the same contents.
func AssertTreesEqual(t *testing.T, want, got string) {
	t.Helper()
	AssertTreeEquals(t, ReadTree(t, want), got)
}

// AssertTreeEquals fails the test unless the tree rooted at got matches the
// expected file map exactly.
func AssertTreeEquals(t *testing.T, want map[string]string, got string) {
	t.Helper()

	gotFiles := ReadTree(t, got)
	for _, rel := range sortedKeys(want) {
		gotContent, ok := gotFiles[rel]
		if !ok {
			t.Errorf("missing file %s", rel)
			continue
		}
		if gotContent != want[rel] {
			t.Errorf("file %s: content %q, want %q", rel, gotContent, want[rel])
		}
	}
	for _, rel := range sortedKeys(gotFiles) {
		if _, ok := want[rel]; !ok {
			t.Errorf("unexpected file %s", rel)
		}
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
