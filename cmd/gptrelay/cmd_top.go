package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/user/gptrelay/internal/state"
)

var topLimit int

func init() {
	rootCmd.AddCommand(topCmd)
	topCmd.Flags().IntVarP(&topLimit, "limit", "n", 10, "number of members to show")
}

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Show the most active chat members",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		store, err := state.NewInteractionStore(interactionsPath(cfg.DataDir))
		if err != nil {
			return fmt.Errorf("open interaction store: %w", err)
		}
		defer store.Close()

		members, err := store.Top(context.Background(), topLimit)
		if err != nil {
			return err
		}
		if len(members) == 0 {
			fmt.Println("No interactions recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RANK\tMEMBER\tMESSAGES\tLAST SEEN")
		for i, m := range members {
			name := m.DisplayName()
			if name == "" {
				name = fmt.Sprintf("user %d", m.UserID)
			}
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", i+1, name, m.MessageCount, m.LastInteraction.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}
