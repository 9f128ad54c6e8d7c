// Package transcript keeps the running transcript of a recording in capture
// order, independent of the order in which per-chunk transcriptions finish.
package transcript

import (
	"strings"
	"sync"
)

// Accumulator reassembles chunk transcriptions by capture index. Chunk
// indices start at 1. A completion for chunk n is held until every index
// below n has been appended or skipped.
type Accumulator struct {
	mu     sync.Mutex
	next   int64 // lowest unresolved index
	held   map[int64]entry
	chunks []string
	text   string
}

type entry struct {
	text    string
	skipped bool
}

func New() *Accumulator {
	a := &Accumulator{}
	a.resetLocked()
	return a
}

// Reset clears the transcript for a new recording.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
}

func (a *Accumulator) resetLocked() {
	a.next = 1
	a.held = map[int64]entry{}
	a.chunks = nil
	a.text = ""
}

// Append records the text of chunk index and returns the full transcript.
// Blank text resolves the chunk without contributing words. Indices already
// resolved are ignored, so a duplicate completion cannot duplicate text.
func (a *Accumulator) Append(index int64, text string) string {
	text = strings.TrimSpace(text)
	return a.resolve(index, entry{text: text, skipped: text == ""})
}

// Skip resolves chunk index without text, e.g. after a failed transcription.
func (a *Accumulator) Skip(index int64) string {
	return a.resolve(index, entry{skipped: true})
}

func (a *Accumulator) resolve(index int64, e entry) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if index < a.next {
		return a.text
	}
	if _, dup := a.held[index]; dup {
		return a.text
	}
	a.held[index] = e

	for {
		cur, ok := a.held[a.next]
		if !ok {
			break
		}
		delete(a.held, a.next)
		a.next++
		if cur.skipped {
			continue
		}
		a.chunks = append(a.chunks, cur.text)
	}
	a.text = strings.Join(a.chunks, " ")
	return a.text
}

// Text is the transcript released so far.
func (a *Accumulator) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.text
}

// Chunks returns a copy of the released chunk texts in capture order.
func (a *Accumulator) Chunks() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.chunks))
	copy(out, a.chunks)
	return out
}

// Pending is the number of completions held back waiting for an earlier
// chunk.
func (a *Accumulator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.held)
}
