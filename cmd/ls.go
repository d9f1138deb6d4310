package cmd

import (
	"github.com/spf13/cobra"

	"uploadhub/internal/client"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List the files on the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		conn, err := client.NewHTTPConnection(cfg.Client.APIURL)
		if err != nil {
			return err
		}
		files, err := conn.CurrentFiles(ctx)
		if err != nil {
			return err
		}
		return client.WriteFiles(cmd.OutOrStdout(), files)
	},
}
