package settings

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
)

func TestNewCopiesInitialValues(t *testing.T) {
	t.Parallel()

	initial := map[string]string{"KeyVaultUrl": "https://example.vault.azure.net/", " ": "ignored"}
	store := New(initial)
	initial["KeyVaultUrl"] = "mutated"

	if got := store.Lookup(KeyVaultURL); got != "https://example.vault.azure.net/" {
		t.Fatalf("expected seeded value, got %q", got)
	}
	if store.Len() != 1 {
		t.Fatalf("expected blank keys to be dropped, got %d keys", store.Len())
	}
}

func TestKeysAreCaseInsensitive(t *testing.T) {
	t.Parallel()

	store := New(nil)
	if err := store.Set("Database:Password", "s3cret"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	value, ok := store.Get("database:password")
	if !ok || value != "s3cret" {
		t.Fatalf("expected case-insensitive lookup to succeed, got %q (%v)", value, ok)
	}

	if err := store.Set("DATABASE:PASSWORD", "rotated"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected overwrite rather than a second key, got %d keys", store.Len())
	}
	if got := store.Keys(); !slices.Equal(got, []string{"DATABASE:PASSWORD"}) {
		t.Fatalf("expected latest key casing, got %v", got)
	}
}

func TestLookupMissingKey(t *testing.T) {
	t.Parallel()

	store := New(nil)
	if _, ok := store.Get("missing"); ok {
		t.Fatalf("expected missing key to report absence")
	}
	if got := store.Lookup("missing"); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestMergeOverridesExisting(t *testing.T) {
	t.Parallel()

	store := New(map[string]string{"A": "1", "B": "2"})
	if err := store.Merge(map[string]string{"b": "20", "C": "30"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := store.Keys(); !slices.Equal(got, []string{"A", "C", "b"}) {
		t.Fatalf("unexpected keys %v", got)
	}
	for k, v := range map[string]string{"A": "1", "B": "20", "c": "30"} {
		if got := store.Lookup(k); got != v {
			t.Fatalf("expected %s=%s, got %q", k, v, got)
		}
	}
}

func TestMergeRejectsEmptyKeyAtomically(t *testing.T) {
	t.Parallel()

	store := New(nil)
	err := store.Merge(map[string]string{"A": "1", "": "2"})
	if !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected no keys applied, got %d", store.Len())
	}
}

func TestFreezeRejectsWrites(t *testing.T) {
	t.Parallel()

	store := New(map[string]string{"A": "1"})
	store.Freeze()
	store.Freeze()

	if err := store.Set("A", "2"); !errors.Is(err, ErrFrozen) {
		t.Fatalf("expected ErrFrozen from Set, got %v", err)
	}
	if err := store.Merge(map[string]string{"B": "3"}); !errors.Is(err, ErrFrozen) {
		t.Fatalf("expected ErrFrozen from Merge, got %v", err)
	}
	if got := store.Lookup("A"); got != "1" {
		t.Fatalf("expected value to be unchanged, got %q", got)
	}
}

func TestSetRejectsEmptyKey(t *testing.T) {
	t.Parallel()

	if err := New(nil).Set("  ", "x"); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}

func TestKeysIsDefensiveCopy(t *testing.T) {
	t.Parallel()

	store := New(map[string]string{"A": "1"})
	keys := store.Keys()
	keys[0] = "mutated"

	if got := store.Keys(); !slices.Equal(got, []string{"A"}) {
		t.Fatalf("expected store to be unaffected, got %v", got)
	}
}

func TestStoreConcurrentAccess(t *testing.T) {
	store := New(nil)
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(2)

		go func(n int) {
			defer wg.Done()
			if err := store.Set(fmt.Sprintf("key:%d", n), "v"); err != nil {
				t.Errorf("Set failed: %v", err)
			}
		}(i)

		go func(n int) {
			defer wg.Done()
			_ = store.Lookup(fmt.Sprintf("key:%d", n))
		}(i)
	}

	wg.Wait()

	if store.Len() != 32 {
		t.Fatalf("expected 32 keys, got %d", store.Len())
	}
}
