package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mithrel/pollsock/internal/server"
)

func newRelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Start the HTTP socket relay for clients that cannot use websockets",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp(cmd)
			defer func() { _ = app.Log.Sync() }()

			addr := app.Cfg.GetString("relay.listen")
			srv := server.New(app.Cfg, app.Log.Named("relay"))
			httpSrv := &http.Server{Addr: addr, Handler: srv.Router()}

			ctx := cmd.Context()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = httpSrv.Shutdown(shutdownCtx)
			}()

			fmt.Fprintf(cmd.OutOrStdout(), "socket relay listening on %s\n", addr)
			app.Log.Info("relay started", zap.String("addr", addr))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("listen", "", "listen address (overrides relay.listen)")
	cmd.Flags().String("token", "", "required bearer token (overrides auth.token)")
	return cmd
}
