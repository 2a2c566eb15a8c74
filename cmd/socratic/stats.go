package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show overall learning statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := store.Close(); closeErr != nil {
				log.Printf("[stats] store close: %v", closeErr)
			}
		}()

		stats, err := store.GetStats(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Sessions:       %d\n", stats.TotalSessions)
		fmt.Printf("Exchanges:      %d\n", stats.TotalExchanges)
		fmt.Printf("Minutes:        %.1f\n", stats.TotalLearningMinutes)
		fmt.Printf("Avg score:      %.1f\n", stats.AverageUnderstanding)
		fmt.Printf("Streak:         %d day(s)\n", stats.StreakDays)
		if len(stats.TopicsExplored) > 0 {
			fmt.Printf("Topics:         %s\n", strings.Join(stats.TopicsExplored, ", "))
		}
		if stats.LastSessionDate != nil {
			fmt.Printf("Last session:   %s\n", stats.LastSessionDate.Format("2006-01-02"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
