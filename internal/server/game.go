package server

import (
	"context"

	dfserver "github.com/df-mc/dragonfly/server"
)

// runGameServer hosts a Dragonfly server on ListenAddr and reports its
// players' joins and quits to the presence tracker.
func (app *App) runGameServer(ctx context.Context) error {
	uc := dfserver.DefaultConfig()
	uc.Network.Address = app.config.ListenAddr

	conf, err := uc.Config(app.logger.Slog())
	if err != nil {
		return err
	}

	srv := conf.New()
	srv.Listen()

	go func() {
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping game server...")
		if err := srv.Close(); err != nil {
			app.logger.Warn(ctx, "closing game server failed", "error", err)
		}
	}()

	app.logger.Info(ctx, "Starting game server", "address", app.config.ListenAddr)

	for p := range srv.Accept() {
		if err := app.tracker.Accept(ctx, p); err != nil {
			app.logger.Error(ctx, "player join failed", "uuid", p.UUID(), "op", "join", "error", err)
			p.Disconnect("Your player data could not be loaded, please rejoin.")
		}
	}
	return nil
}
