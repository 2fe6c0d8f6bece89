package manager

import "github.com/rs/zerolog"

// LogPublisher writes every lifecycle event as one debug line.
type LogPublisher struct {
	log zerolog.Logger
}

// NewLogPublisher returns a publisher logging to l.
func NewLogPublisher(l zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: l.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) Publish(e Event) {
	ev := p.log.Debug().Str("event", e.Name).Str("user_id", e.UserID)
	if len(e.Fields) > 0 {
		ev = ev.Fields(e.Fields)
	}
	ev.Msg("deployment event")
}
