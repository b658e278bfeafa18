package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/gptrelay/internal/state"
)

func init() {
	rootCmd.AddCommand(qaCmd)
	qaCmd.AddCommand(qaStatsCmd, qaListCmd, qaClearCmd, qaPruneCmd)
}

var qaCmd = &cobra.Command{
	Use:   "qa",
	Short: "Inspect and maintain the Q&A cache",
}

func openQAStore() *state.QAStore {
	cfg := loadConfig()
	return state.NewQAStore(qaPath(cfg.DataDir))
}

var qaStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show Q&A cache statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := openQAStore()
		st := store.Stats()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "file\t%s\n", store.Path())
		fmt.Fprintf(w, "pairs\t%d\n", st.TotalQAPairs)
		fmt.Fprintf(w, "size\t%d bytes\n", st.FileSize)
		if st.LastUpdated != nil {
			fmt.Fprintf(w, "last updated\t%s\n", st.LastUpdated.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var qaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached questions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pairs := openQAStore().List()
		if len(pairs) == 0 {
			fmt.Println("No cached questions.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CREATED\tUSES\tQUESTION")
		for _, p := range pairs {
			fmt.Fprintf(w, "%s\t%d\t%s\n", p.Created.Format("2006-01-02 15:04:05"), p.UsageCount, truncate(p.Question, 60))
		}
		return w.Flush()
	},
}

var qaClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached question",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openQAStore().Clear(); err != nil {
			return fmt.Errorf("clear qa cache: %w", err)
		}
		fmt.Println("Q&A cache cleared.")
		return nil
	},
}

var qaPruneCmd = &cobra.Command{
	Use:   "prune [limit]",
	Short: "Keep only the newest pairs (default cache.max_entries)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		limit := cfg.Cache.MaxEntries
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid limit %q: must be a positive integer", args[0])
			}
			limit = n
		}

		removed, err := state.NewQAStore(qaPath(cfg.DataDir)).Prune(limit)
		if err != nil {
			return fmt.Errorf("prune qa cache: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Removed %d pair(s).\n", removed)
		return nil
	},
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
