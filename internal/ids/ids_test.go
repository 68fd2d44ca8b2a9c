package ids

import (
	"sort"
	"testing"
	"time"
)

func TestNewIsSortableByIssueTime(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var got []string
	for i := 0; i < 100; i++ {
		got = append(got, NewAt(base.Add(time.Duration(i)*time.Millisecond)))
	}

	if !sort.StringsAreSorted(got) {
		t.Fatal("identifiers issued in time order are not lexicographically sorted")
	}
}

func TestNewUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := New()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate identifier %s", id)
		}
		seen[id] = struct{}{}
	}
}
