package cli

import (
	"github.com/spf13/cobra"

	"github.com/pipevision/pipevision/internal/server"
	"github.com/pipevision/pipevision/pkg/errors"
)

// serveCommand creates the serve command.
func (c *CLI) serveCommand() *cobra.Command {
	var (
		addr     string
		drawings string
		noCache  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve gap lists, metadata write-back and exports over HTTP",
		Long: `Serve starts the HTTP adapter. Drawings are read from <drawings>/<project>.json
and metadata from the configured store.

  GET  /projects/{id}/gaps
  GET  /projects/{id}/metadata
  POST /projects/{id}/metadata
  GET  /projects/{id}/exports/{format}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := c.config()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if drawings == "" {
				drawings = cfg.Server.DrawingsDir
			}
			if drawings == "" {
				return errors.New(errors.ErrCodeInvalidInput, "a drawings directory is required (--drawings or server.drawings_dir)")
			}
			table, err := cfg.LoadTable()
			if err != nil {
				return err
			}

			runner, err := c.newRunner(ctx, noCache)
			if err != nil {
				return err
			}
			defer runner.Close()

			srv := server.New(runner, server.DirSource{Dir: drawings}, server.Options{
				TargetCRS: cfg.TargetCRS,
				Table:     table,
				Export:    cfg.ExportOptions(),
				Logger:    loggerFromContext(ctx),
			})
			return srv.ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr, :8080)")
	cmd.Flags().StringVar(&drawings, "drawings", "", "directory of <project>.json drawings")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "disable caching")
	return cmd
}
