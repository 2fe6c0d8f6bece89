package manager

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLogPublisher_WritesFields(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(zerolog.New(&buf).Level(zerolog.DebugLevel))
	p.Publish(Event{Name: EventLoadReady, UserID: "u1", Fields: map[string]any{"model": "m"}})
	out := buf.String()
	for _, want := range []string{`"event":"load_ready"`, `"user_id":"u1"`, `"model":"m"`, `"component":"events"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %q", want, out)
		}
	}

	buf.Reset()
	quiet := NewLogPublisher(zerolog.New(&buf).Level(zerolog.InfoLevel))
	quiet.Publish(Event{Name: EventDeleted, UserID: "u1"})
	if buf.Len() != 0 {
		t.Fatalf("debug events should be filtered at info: %q", buf.String())
	}
}

func TestMemoryPublisher_NamesFilterByUser(t *testing.T) {
	p := NewMemoryPublisher()
	p.Publish(Event{Name: EventDeployCreated, UserID: "a"})
	p.Publish(Event{Name: EventDeployCreated, UserID: "b"})
	p.Publish(Event{Name: EventDeleted, UserID: "a"})
	got := p.Names("a")
	if len(got) != 2 || got[0] != EventDeployCreated || got[1] != EventDeleted {
		t.Fatalf("unexpected names: %v", got)
	}
	if len(p.Events()) != 3 {
		t.Fatalf("expected 3 events")
	}
}
