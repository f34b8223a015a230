package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mithrel/pollsock/internal/channel"
	"github.com/mithrel/pollsock/internal/present"
	"github.com/mithrel/pollsock/pkg/api"
)

func newConnectCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "connect <address>",
		Short: "Open a channel; stdin lines are sent, received messages are printed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp(cmd)
			defer func() { _ = app.Log.Sync() }()
			mode, ok := present.ParseMode(output)
			if !ok {
				return fmt.Errorf("unknown output %q: expected plain or ndjson", output)
			}
			out := present.NewEventWriter(cmd.OutOrStdout(), mode)
			return runConnect(cmd.Context(), cmd.InOrStdin(), out, args[0], app.OpenChannel, app.Log)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "plain", "output format: plain or ndjson")
	cmd.Flags().String("mode", "", "channel transport: auto, native or emulated")
	cmd.Flags().String("server", "", "relay origin (overrides server.url)")
	cmd.Flags().String("token", "", "relay bearer token (overrides auth.token)")
	return cmd
}

// closeGrace bounds how long connect waits for the close request on exit.
const closeGrace = 10 * time.Second

type openFunc func(ctx context.Context, address string, h channel.Handlers) (channel.Channel, error)

// runConnect bridges in/out to a channel until the channel closes, fails or
// in is exhausted.
func runConnect(ctx context.Context, in io.Reader, out *present.EventWriter, address string, open openFunc, log *zap.Logger) error {
	opened := make(chan struct{})
	done := make(chan error, 1)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}

	ch, err := open(ctx, address, channel.Handlers{
		OnOpen: func() error {
			close(opened)
			return nil
		},
		OnMessage: func(msg string) error {
			return out.Write(api.Event{Type: api.EventMessage, Msg: msg})
		},
		OnClose: func() error {
			err := out.Write(api.Event{Type: api.EventClose})
			finish(nil)
			return err
		},
		OnError: func(err error) {
			finish(err)
		},
	})
	if err != nil {
		return err
	}
	defer func() {
		ch.Close()
		select {
		case <-ch.Done():
		case <-time.After(closeGrace):
			log.Warn("channel did not finish closing", zap.String("address", address))
		}
	}()

	select {
	case <-opened:
	case err := <-done:
		if err == nil {
			err = errors.New("channel closed before it opened")
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
	log.Info("channel open", zap.String("address", address))

	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			if err := ch.Send(sc.Text()); err != nil {
				finish(err)
				return
			}
		}
		ch.Close()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
