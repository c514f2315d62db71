package source

import (
	"context"
	"os"

	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog/log"
)

// debugSource wraps a Source and logs every query and delivered event.
//
// Enable with UNIVERSED_DEBUG=true (engine-specific) or DEBUG=true (general).
// The logs include filter JSON and event IDs/kinds, which can be verbose and
// may reveal which communities a user follows; keep it out of production.
type debugSource struct{ base Source }

// WithDebugLogging wraps src in a logging layer when requested via the
// environment, and returns src unchanged otherwise.
func WithDebugLogging(src Source) Source {
	if !debugLoggingRequested() {
		return src
	}
	return &debugSource{base: src}
}

func (d *debugSource) Query(ctx context.Context, filters nostr.Filters) ([]*nostr.Event, error) {
	log.Debug().Interface("filters", filters).Msg("source query")
	evs, err := d.base.Query(ctx, filters)
	if err != nil {
		log.Error().Err(err).Msg("source query failed")
		return nil, err
	}
	log.Debug().Int("events", len(evs)).Msg("source query done")
	return evs, nil
}

func (d *debugSource) Subscribe(ctx context.Context, filters nostr.Filters) (<-chan *nostr.Event, func(), error) {
	log.Debug().Interface("filters", filters).Msg("source subscribe")
	ch, cancel, err := d.base.Subscribe(ctx, filters)
	if err != nil {
		log.Error().Err(err).Msg("source subscribe failed")
		return nil, nil, err
	}
	out := make(chan *nostr.Event, cap(ch))
	go func() {
		defer close(out)
		for ev := range ch {
			log.Debug().Str("id", ev.ID).Int("kind", ev.Kind).Msg("source delivered event")
			out <- ev
		}
	}()
	return out, cancel, nil
}

func debugLoggingRequested() bool {
	return os.Getenv("UNIVERSED_DEBUG") == "true" || os.Getenv("DEBUG") == "true"
}
