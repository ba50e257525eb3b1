package sync

import "testing"

func TestCacheLookup(t *testing.T) {
	cache := NewCache()

	if found, _ := cache.Lookup(1, 10); found {
		t.Fatal("empty cache should report no batch data")
	}

	cache.Put(1, map[int64]bool{10: true, 11: false})

	found, matched := cache.Lookup(1, 10)
	if !found || !matched {
		t.Fatalf("expected matched learner, got found=%v matched=%v", found, matched)
	}
	found, matched = cache.Lookup(1, 11)
	if !found || matched {
		t.Fatalf("expected unmatched learner within known batch, got found=%v matched=%v", found, matched)
	}
	// An unseen learner in a known batch is a negative answer, not a miss.
	found, matched = cache.Lookup(1, 99)
	if !found || matched {
		t.Fatalf("expected negative answer for unseen learner, got found=%v matched=%v", found, matched)
	}
	if found, _ := cache.Lookup(2, 10); found {
		t.Fatal("unrelated activity must be a miss")
	}
}

func TestCacheClear(t *testing.T) {
	cache := NewCache()
	cache.Put(1, map[int64]bool{10: true})
	cache.Put(2, map[int64]bool{10: true})

	cache.Clear(1)

	if found, _ := cache.Lookup(1, 10); found {
		t.Fatal("cleared activity should be a miss")
	}
	if found, _ := cache.Lookup(2, 10); !found {
		t.Fatal("clearing one activity must not touch another")
	}
}
