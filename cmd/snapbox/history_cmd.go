package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/snapboxhq/snapbox/internal/config"
	"github.com/snapboxhq/snapbox/internal/sync"
	"github.com/snapboxhq/snapbox/internal/workspace"
)

func init() {
	rootCmd.AddCommand(newHistoryCmd())
}

func newHistoryCmd() *cobra.Command {
	var dataDir string
	var limit int

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sync cycles for a directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			ws, err := workspace.New(dataDir)
			if err != nil {
				return err
			}

			journal := sync.NewJournal(ws.JournalPath())
			if err := journal.Open(); err != nil {
				return fmt.Errorf("no sync journal for %s: %w", ws.Root, err)
			}
			defer journal.Close()

			records, err := journal.History(limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no sync cycles recorded yet")
				return nil
			}

			out := cmd.OutOrStdout()
			for _, rec := range records {
				uploaded := "-"
				if rec.Uploaded {
					uploaded = "uploaded"
				}
				fmt.Fprintf(out, "%s  %-8s %-24s down=%-3d archived=%-3d %-9s %s (%s)\n",
					rec.StartedAt.Local().Format(time.DateTime),
					rec.Reason,
					rec.SnapshotID,
					rec.Downloads,
					rec.Archived,
					uploaded,
					rec.Duration.Round(time.Millisecond),
					humanize.Time(rec.StartedAt))
			}
			return nil
		},
	}

	historyCmd.Flags().StringVarP(&dataDir, "datadir", "d", config.DefaultDataDir, "Synced directory to inspect")
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of cycles to show")

	return historyCmd
}
