package wire

import (
	"context"
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mithrel/pollsock/internal/channel"
	"github.com/mithrel/pollsock/internal/config"
	"github.com/mithrel/pollsock/internal/notebook"
	"github.com/mithrel/pollsock/internal/observability"
	"github.com/mithrel/pollsock/internal/remote"
)

// App aggregates the major services for easy injection.
type App struct {
	Cfg    *viper.Viper
	Log    *zap.Logger
	Remote *remote.Client
	Store  *notebook.HTTPStore
	Mode   channel.Mode
}

// BuildApp validates cfg and wires dependencies from it.
func BuildApp(ctx context.Context, cfg *viper.Viper) (*App, error) {
	if err := config.CheckConfigValidity(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := observability.SetupLogger(observability.LogConfigFrom(cfg))
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	mode, err := channel.ParseMode(cfg.GetString("channel.mode"))
	if err != nil {
		return nil, err
	}
	rc := remote.New(remote.Config{
		BaseURL:        cfg.GetString("server.url"),
		Token:          cfg.GetString("auth.token"),
		RequestTimeout: cfg.GetDuration("client.request_timeout"),
		PollTimeout:    cfg.GetDuration("client.poll_timeout"),
		Logger:         logger.Named("remote"),
	})
	return &App{
		Cfg:    cfg,
		Log:    logger,
		Remote: rc,
		Store:  notebook.NewHTTPStore(cfg.GetString("notebook.base_url"), cfg.GetString("auth.token")),
		Mode:   mode,
	}, nil
}

// OpenChannel opens a channel to address using the configured mode. The
// relay origin decides what auto mode resolves to.
func (a *App) OpenChannel(ctx context.Context, address string, h channel.Handlers) (channel.Channel, error) {
	return channel.New(ctx, address, channel.Options{
		Mode:     a.Mode,
		Origin:   a.Cfg.GetString("server.url"),
		Handlers: h,
		Logger:   a.Log.Named("channel"),
		Remote:   a.Remote,
	})
}
