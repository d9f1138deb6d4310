package cmd

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"uploadhub/internal/models"
	"uploadhub/internal/storage"
)

var errNoLedger = errors.New("database.driver is none, no uploads are recorded")

var historyCmd = &cobra.Command{
	Use:   "history SESSION",
	Short: "Show the uploads the server recorded for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Database.Driver == "none" {
			return errNoLedger
		}
		ctx, stop := signalContext()
		defer stop()

		db, err := openLedger()
		if err != nil {
			return err
		}
		defer db.Close()

		uploads, err := storage.NewLedger(db).ListBySession(ctx, args[0])
		if err != nil {
			return err
		}
		return writeHistory(cmd.OutOrStdout(), uploads)
	},
}

func writeHistory(out io.Writer, uploads []*models.Upload) error {
	if len(uploads) == 0 {
		_, err := fmt.Fprintln(out, "no uploads recorded for this session")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	header := color.New(color.Bold).SprintFunc()
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", header("FILE"), header("SIZE"), header("STATUS"), header("FINISHED"), header("ERROR"))
	for _, u := range uploads {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			u.FileName, humanize.Bytes(uint64(u.Size)), u.Status, u.FinishedAt.UTC().Format(time.RFC3339), u.Error)
	}
	return tw.Flush()
}
