package manager

import (
	"strings"
	"unicode/utf8"

	"modelproxy/internal/runtime"
	"modelproxy/pkg/types"
)

const assistantTag = "Assistant:"

// formatPrompt renders messages as role-tagged lines and cues the reply.
func formatPrompt(msgs []types.ChatMessage) string {
	var b strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case "system":
			b.WriteString("System: ")
		case "assistant":
			b.WriteString("Assistant: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	b.WriteString(assistantTag)
	return b.String()
}

// postProcess strips an echoed prompt from causal output.
func postProcess(task runtime.Task, text string) string {
	if task == runtime.TaskTextGeneration {
		if i := strings.LastIndex(text, assistantTag); i >= 0 {
			text = text[i+len(assistantTag):]
		}
	}
	return text
}

// applyStop truncates text at the earliest stop sequence.
func applyStop(text string, stops []string) (string, bool) {
	cut := -1
	for _, s := range stops {
		if s == "" {
			continue
		}
		if i := strings.Index(text, s); i >= 0 && (cut < 0 || i < cut) {
			cut = i
		}
	}
	if cut < 0 {
		return text, false
	}
	return text[:cut], true
}

// countWords approximates token usage by whitespace-separated words.
func countWords(s string) int { return len(strings.Fields(s)) }

// stopFilter forwards streamed fragments while holding back enough text to
// recognise a stop sequence split across fragments.
type stopFilter struct {
	stops []string
	hold  int
	buf   string
	emit  func(string) error
	hit   bool
}

func newStopFilter(stops []string, emit func(string) error) *stopFilter {
	f := &stopFilter{emit: emit}
	for _, s := range stops {
		if s == "" {
			continue
		}
		f.stops = append(f.stops, s)
		if len(s)-1 > f.hold {
			f.hold = len(s) - 1
		}
	}
	return f
}

// write returns errStopReached once a stop sequence is seen.
func (f *stopFilter) write(tok string) error {
	if f.hit {
		return errStopReached
	}
	f.buf += tok
	if head, ok := applyStop(f.buf, f.stops); ok {
		f.hit = true
		f.buf = ""
		if head != "" {
			if err := f.emit(head); err != nil {
				return err
			}
		}
		return errStopReached
	}
	n := len(f.buf) - f.hold
	// keep multi-byte runes whole
	for n > 0 && n < len(f.buf) && !utf8.RuneStart(f.buf[n]) {
		n--
	}
	if n > 0 {
		out := f.buf[:n]
		f.buf = f.buf[n:]
		return f.emit(out)
	}
	return nil
}

func (f *stopFilter) flush() error {
	if f.hit || f.buf == "" {
		return nil
	}
	out := f.buf
	f.buf = ""
	return f.emit(out)
}
