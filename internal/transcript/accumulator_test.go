package transcript

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
)

func permutations(n int) [][]int {
	if n == 0 {
		return [][]int{{}}
	}
	var out [][]int
	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			q := append([]int{}, p[:i]...)
			q = append(q, n)
			q = append(q, p[i:]...)
			out = append(out, q)
		}
	}
	return out
}

func TestAppendIsCaptureOrderedForEveryCompletionOrder(t *testing.T) {
	texts := map[int64]string{1: "buongiorno", 2: "ha febbre?", 3: "da due giorni", 4: "prende farmaci?"}
	want := "buongiorno ha febbre? da due giorni prende farmaci?"

	for _, perm := range permutations(4) {
		a := New()
		var last string
		for _, i := range perm {
			last = a.Append(int64(i), texts[int64(i)])
		}
		if last != want {
			t.Fatalf("order %v: transcript = %q, want %q", perm, last, want)
		}
		if a.Pending() != 0 {
			t.Fatalf("order %v: %d completions still held", perm, a.Pending())
		}
	}
}

func TestAppendHoldsLaterChunks(t *testing.T) {
	a := New()
	if got := a.Append(2, "second"); got != "" {
		t.Fatalf("transcript after chunk 2 = %q, want empty", got)
	}
	if got := a.Append(1, "first"); got != "first second" {
		t.Fatalf("transcript = %q, want %q", got, "first second")
	}
}

func TestSkipReleasesHeldChunks(t *testing.T) {
	a := New()
	a.Append(3, "three")
	a.Append(1, "one")
	if got := a.Text(); got != "one" {
		t.Fatalf("transcript = %q, want %q", got, "one")
	}
	if got := a.Skip(2); got != "one three" {
		t.Fatalf("transcript after skip = %q, want %q", got, "one three")
	}
	if got := a.Chunks(); len(got) != 2 {
		t.Fatalf("chunks = %v, want 2 entries", got)
	}
}

func TestBlankTextAndDuplicates(t *testing.T) {
	a := New()
	a.Append(1, "  ")
	a.Append(2, " hello ")
	a.Append(2, "hello again")
	a.Append(1, "late duplicate")
	if got := a.Text(); got != "hello" {
		t.Fatalf("transcript = %q, want %q", got, "hello")
	}
}

func TestReset(t *testing.T) {
	a := New()
	a.Append(1, "old")
	a.Append(3, "held")
	a.Reset()

	if a.Text() != "" || len(a.Chunks()) != 0 || a.Pending() != 0 {
		t.Fatalf("state after reset: text=%q chunks=%v pending=%d", a.Text(), a.Chunks(), a.Pending())
	}
	if got := a.Append(1, "new"); got != "new" {
		t.Fatalf("transcript = %q, want %q", got, "new")
	}
}

func TestConcurrentAppends(t *testing.T) {
	const n = 200
	a := New()
	order := rand.New(rand.NewSource(7)).Perm(n)

	var wg sync.WaitGroup
	for _, i := range order {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a.Append(int64(i+1), fmt.Sprintf("w%d", i+1))
		}(i)
	}
	wg.Wait()

	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i+1)
	}
	if got, want := a.Text(), strings.Join(parts, " "); got != want {
		t.Fatalf("transcript mismatch:\n got %q\nwant %q", got, want)
	}
}
