package presence

import (
	"context"

	"github.com/df-mc/dragonfly/server/player"
)

// PlayerHandler reports a Dragonfly player's quit to the tracker.
type PlayerHandler struct {
	player.NopHandler
	tracker *Tracker
}

func (h *PlayerHandler) HandleQuit(p *player.Player) {
	h.tracker.Quit(context.Background(), p.UUID())
}

// Accept joins a freshly connected player and installs its quit handler.
// The player itself is kept as the live session of its presence record.
func (t *Tracker) Accept(ctx context.Context, p *player.Player) error {
	if err := t.Join(ctx, p.UUID(), p); err != nil {
		return err
	}
	p.Handle(&PlayerHandler{tracker: t})
	return nil
}
