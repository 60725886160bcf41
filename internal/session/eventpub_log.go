package session

import "github.com/rs/zerolog"

// LogPublisher writes events as debug log lines. Fragment events are skipped
// unless Fragments is set.
type LogPublisher struct {
	Log       zerolog.Logger
	Fragments bool
}

func (p LogPublisher) Publish(e Event) {
	if e.Name == EventFragment && !p.Fragments {
		return
	}
	ev := p.Log.Debug().Str("event", e.Name)
	if e.TurnID != "" {
		ev = ev.Str("turn_id", e.TurnID)
	}
	ev.Fields(e.Fields).Msg("session event")
}
