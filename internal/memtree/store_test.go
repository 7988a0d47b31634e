package memtree

import (
	"path/filepath"
	"testing"

	"github.com/xonecas/symb/internal/embedding"
)

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "memtree.db")

	store, err := OpenStore(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	tree := New(embedding.Dim)
	e := embedding.NewHashEmbedding()
	for _, text := range []string{"go programming", "go concurrency"} {
		if _, err := tree.Insert(text, e.Embed(text), Normal); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	if err := store.Save(tree); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load(embedding.Dim)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Size() != tree.Size() {
		t.Fatalf("expected size %d, got %d", tree.Size(), loaded.Size())
	}

	hits := loaded.Retrieve(e.Embed("go"), 2)
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits after reload, got %d", len(hits))
	}
}

func TestStoreLoadEmptyDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "memtree.db")
	store, err := OpenStore(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	tree, err := store.Load(embedding.Dim)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tree.Size() != 0 {
		t.Fatalf("expected empty tree, got size %d", tree.Size())
	}
}
