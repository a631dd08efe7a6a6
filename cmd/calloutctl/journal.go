package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/athena-dhcpd/dhcp-callout/internal/journal"
)

func journalCmd(g *globalFlags) *cobra.Command {
	var (
		path     string
		limit    int
		asJSON   bool
		pruneAge time.Duration
	)

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show or prune the callout journal",
		Long: `Show the most recent journaled callouts, newest first. The journal is
locked while "calloutctl listen" runs; stop the listener first.`,
		Example: `  calloutctl journal -n 50
  calloutctl journal --prune 72h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			if path == "" {
				path = cfg.Peer.Journal
			}
			if path == "" {
				return fmt.Errorf("no journal configured; set peer.journal or --path")
			}

			j, err := journal.Open(path, logger)
			if err != nil {
				return err
			}
			defer j.Close()

			if pruneAge > 0 {
				n, err := j.Prune(time.Now().Add(-pruneAge))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %d records, %d remain\n", n, j.Count())
				return nil
			}

			records, err := j.Recent(limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			defer w.Flush()
			fmt.Fprintln(w, "SEQ\tTIME\tSIDE\tHOOK\tMAC\tIP\tCONTROL\tPOLICY\tREASON")
			for _, r := range records {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.Seq, r.Time.Format(time.RFC3339), r.Side, r.Hook,
					r.MAC, ipText(r.IP), r.Control, r.Policy, r.Reason)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "journal database (peer.journal when empty)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")
	cmd.Flags().DurationVar(&pruneAge, "prune", 0, "remove records older than this instead of listing")

	return cmd
}
