package session

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestMemoryPublisher_Limit(t *testing.T) {
	p := &MemoryPublisher{Limit: 2}
	for _, n := range []string{EventTurnStart, EventFragment, EventTurnEnd} {
		p.Publish(Event{Name: n, TurnID: "t"})
	}
	got := p.Events()
	if len(got) != 2 || got[0].Name != EventFragment || got[1].Name != EventTurnEnd {
		t.Fatalf("events %+v", got)
	}
	if len(p.Named(EventTurnStart)) != 0 || len(p.Named(EventTurnEnd)) != 1 {
		t.Fatalf("named lookup wrong: %+v", got)
	}
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := LogPublisher{Log: zerolog.New(&buf).Level(zerolog.DebugLevel)}
	p.Publish(Event{Name: EventFragment, TurnID: "t1"})
	p.Publish(Event{Name: EventTurnEnd, TurnID: "t1", Fields: map[string]any{"status": "completed"}})
	out := buf.String()
	if strings.Contains(out, `"event":"fragment"`) {
		t.Fatalf("fragment events should be skipped: %s", out)
	}
	for _, want := range []string{`"event":"turn_end"`, `"turn_id":"t1"`, `"status":"completed"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}

	buf.Reset()
	LogPublisher{Log: zerolog.New(&buf).Level(zerolog.DebugLevel), Fragments: true}.Publish(Event{Name: EventFragment})
	if !strings.Contains(buf.String(), `"event":"fragment"`) {
		t.Fatalf("fragment not logged: %s", buf.String())
	}
}
