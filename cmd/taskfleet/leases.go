package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	leaseLimit int
	leaseJSON  bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the lease table",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		_, logger, store, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		logger.Info().Msg("lease schema up to date")
		return nil
	},
}

var leasesCmd = &cobra.Command{
	Use:   "leases",
	Short: "Print the most recent leases",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		_, _, store, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		recs, err := store.Recent(ctx, leaseLimit)
		if err != nil {
			return fmt.Errorf("list leases: %w", err)
		}

		if leaseJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(recs)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TASK\tPROFILE\tNODE\tLAST RUN")
		for _, r := range recs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.TaskName, r.Profile, r.Node, r.LastRun.Format(time.RFC3339Nano))
		}
		return w.Flush()
	},
}

func init() {
	leasesCmd.Flags().IntVarP(&leaseLimit, "limit", "n", 20, "number of leases to show")
	leasesCmd.Flags().BoolVar(&leaseJSON, "json", false, "print JSON instead of a table")
}
