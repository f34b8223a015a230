package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mithrel/pollsock/internal/notebook"
)

func newNotebookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notebook",
		Short: "Work with notebooks on the notebook server",
	}
	cmd.AddCommand(newNotebookNewCmd())
	return cmd
}

func newNotebookNewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a notebook and open it",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp(cmd)
			defer func() { _ = app.Log.Sync() }()

			c := &notebook.Creator{
				BaseURL:  app.Cfg.GetString("notebook.base_url"),
				Path:     app.Cfg.GetString("notebook.path"),
				Surfaces: notebook.WriterSurfaces{W: cmd.OutOrStdout()},
				Store:    app.Store,
				Logger:   app.Log.Named("notebook"),
				OnFailure: func(_ notebook.Surface, err error) {
					fmt.Fprintf(cmd.ErrOrStderr(), "creating notebook failed: %v\n", err)
				},
			}
			p, err := c.New(cmd.Context())
			if err != nil {
				return err
			}
			url, err := p.Wait(cmd.Context())
			if err != nil {
				return err
			}
			app.Log.Debug("notebook created", zap.String("url", url))
			return nil
		},
	}
	cmd.Flags().String("path", "", "directory for the new notebook (overrides notebook.path)")
	cmd.Flags().String("base", "", "notebook server URL (overrides notebook.base_url)")
	return cmd
}
