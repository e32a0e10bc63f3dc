package harness

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Console transcript block markers.
const (
	TranscriptLinePrefix = "BROWSER CONSOLE: "
	transcriptHeader     = "--- BROWSER CONSOLE: %s ---\n"
	transcriptFooter     = "--- END BROWSER CONSOLE (%d messages) ---\n"
)

// Transcript collects browser console messages for one session. It is
// append-only until flushed; messages arriving after Flush are dropped.
type Transcript struct {
	mu       sync.Mutex
	messages []string
	flushed  bool
}

var _ ConsoleSink = &Transcript{}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// Append records msg unless the transcript was already flushed.
func (t *Transcript) Append(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.flushed {
		return
	}
	t.messages = append(t.messages, msg)
}

// Messages returns a copy of the recorded messages.
func (t *Transcript) Messages() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]string(nil), t.messages...)
}

// Flush writes the transcript block for the named check to w. Only the
// first call writes anything; it reports whether it did.
func (t *Transcript) Flush(w io.Writer, name string) (bool, error) {
	t.mu.Lock()
	if t.flushed {
		t.mu.Unlock()
		return false, nil
	}
	t.flushed = true
	messages := t.messages
	t.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, transcriptHeader, name)
	for _, m := range messages {
		for _, line := range strings.Split(strings.TrimRight(m, "\n"), "\n") {
			sb.WriteString(TranscriptLinePrefix)
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	fmt.Fprintf(&sb, transcriptFooter, len(messages))

	// One write keeps the block together on a shared console.
	if _, err := io.WriteString(w, sb.String()); err != nil {
		return true, fmt.Errorf("writing console transcript: %w", err)
	}
	return true, nil
}
