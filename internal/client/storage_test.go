package client

import (
	"os"
	"path/filepath"
	"testing"
)

var (
	_ Storage = (*FileStore)(nil)
	_ Storage = (*MemoryStore)(nil)
)

func TestFileStore_LoadMissingFile_ReturnsEmpty(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "missing.json"))

	values, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(values) != 0 {
		t.Errorf("Load() = %v, want empty", values)
	}
}

func TestFileStore_Path(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if got := NewFileStore(path).Path(); got != path {
		t.Errorf("Path() = %q, want %q", got, path)
	}
}

func TestFileStore_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	store := NewFileStore(path)

	want := map[string]string{KeyAuthToken: "tok", KeyUser: `{"id":"u1"}`}
	if err := store.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := NewFileStore(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got[KeyAuthToken] != "tok" || got[KeyUser] != `{"id":"u1"}` {
		t.Errorf("Load() = %v, want %v", got, want)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 600", perm)
	}
}

func TestFileStore_SaveReplacesWholeContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store := NewFileStore(path)

	if err := store.Save(map[string]string{"a": "1", "b": "2"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save(map[string]string{"a": "3"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, _ := store.Load()
	if len(got) != 1 || got["a"] != "3" {
		t.Errorf("Load() = %v, want only a=3", got)
	}

	// 一時ファイルが残っていないこと
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the session file", len(entries))
	}
}

func TestFileStore_CorruptFile_ReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := NewFileStore(path).Load(); err == nil {
		t.Error("Load() should fail for a corrupt file")
	}
}

func TestMemoryStore_IsolatesCallers(t *testing.T) {
	store := NewMemoryStore()
	input := map[string]string{"k": "v"}
	if err := store.Save(input); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	input["k"] = "mutated"

	got, _ := store.Load()
	if got["k"] != "v" {
		t.Errorf("Load()[k] = %q, want v", got["k"])
	}
	got["k"] = "mutated again"

	again, _ := store.Load()
	if again["k"] != "v" {
		t.Errorf("Load()[k] = %q after caller mutation, want v", again["k"])
	}
}
