package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"uploadhub/internal/client"
)

var uploadCmd = &cobra.Command{
	Use:   "upload FILE...",
	Short: "Upload files and follow their progress",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		files, err := localFiles(args)
		if err != nil {
			return err
		}

		conn, err := client.NewHTTPConnection(cfg.Client.APIURL)
		if err != nil {
			return err
		}
		defer conn.Close()

		out := cmd.OutOrStdout()
		view := client.NewConsoleView(out, len(files))
		agg := client.NewAggregator(view, conn, cfg.Client.CloseDelay())
		if err := agg.Initialize(ctx); err != nil {
			return err
		}
		if err := agg.OnFileChange(ctx, files); err != nil {
			return err
		}

		select {
		case <-view.Done():
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Client.CloseDelay() + 5*time.Second):
		}
		fmt.Fprintln(out)
		return view.PrintFiles()
	},
}

func localFiles(paths []string) ([]client.File, error) {
	files := make([]client.File, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("%s is not a regular file", p)
		}
		files = append(files, client.File{
			Name: filepath.Base(p),
			Size: info.Size(),
			Path: p,
		})
	}
	return files, nil
}
