package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/socratic-dev/socratic/internal/dialogue"
	"github.com/socratic-dev/socratic/internal/tutor"
	"github.com/socratic-dev/socratic/pkg/session"
)

var chatCmd = &cobra.Command{
	Use:   "chat [topic]",
	Short: "Start an interactive tutoring session in the terminal",
	Long: `Chat runs a Socratic dialogue in the terminal.

Commands inside the session:
  /hint   ask for a hint on the current question
  /end    end the session and print the summary
  Ctrl-D  same as /end`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		svc, store, _, err := buildTutor(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := store.Close(); closeErr != nil {
				log.Printf("[chat] store close: %v", closeErr)
			}
		}()

		line := liner.NewLiner()
		defer line.Close()
		line.SetCtrlCAborts(true)

		topic := ""
		if len(args) > 0 {
			topic = args[0]
		}
		for strings.TrimSpace(topic) == "" {
			topic, err = line.Prompt("What would you like to learn about? ")
			if err != nil {
				return err
			}
		}

		fmt.Println("Thinking...")
		res, err := svc.StartSession(ctx, strings.TrimSpace(topic), "")
		if err != nil {
			return err
		}
		sessionID := res.Session.ID
		printTurn(res.Turn)

		for {
			input, err := line.Prompt("> ")
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return endChat(ctx, svc, sessionID)
			}
			if err != nil {
				return err
			}

			input = strings.TrimSpace(input)
			switch {
			case input == "":
				continue
			case input == "/end":
				return endChat(ctx, svc, sessionID)
			case input == "/hint":
				hint, _, err := svc.Hint(ctx, sessionID)
				if err != nil {
					fmt.Printf("Hint unavailable: %v\n", err)
					continue
				}
				fmt.Printf("\nHint: %s\n\n", hint)
			default:
				line.AppendHistory(input)
				res, err := svc.Respond(ctx, sessionID, input)
				if err != nil {
					fmt.Printf("That didn't go through: %v\n", err)
					continue
				}
				printTurn(res.Turn)
			}
		}
	},
}

func printTurn(turn dialogue.TurnPayload) {
	fmt.Println()
	if turn.Encouragement != "" {
		fmt.Println(turn.Encouragement)
	}
	fmt.Println(turn.Question)
	fmt.Printf("\n[understanding %d/100, level %s]\n\n", turn.UnderstandingScore, turn.DifficultyLevel)
}

func endChat(ctx context.Context, svc *tutor.Service, sessionID string) error {
	sess, stats, err := svc.EndSession(ctx, sessionID)
	if err != nil {
		return err
	}
	printSummary(sess, stats)
	return nil
}

func printSummary(sess *session.Session, stats *session.Stats) {
	fmt.Printf("\nSession on %q ended after %d exchanges (%.1f minutes).\n",
		sess.Topic, sess.TotalExchanges, sess.DurationMinutes(time.Now()))

	summary := dialogue.DecodeSummary(sess.Summary)
	if summary.TopicSummary != "" {
		fmt.Printf("\n%s\n", summary.TopicSummary)
	}
	if len(summary.KeyDiscoveries) > 0 {
		fmt.Println("\nWhat you worked out:")
		for _, d := range summary.KeyDiscoveries {
			fmt.Printf("  - %s\n", d)
		}
	}
	if len(summary.RemainingGaps) > 0 {
		fmt.Println("\nStill open:")
		for _, g := range summary.RemainingGaps {
			fmt.Printf("  - %s\n", g)
		}
	}
	if len(summary.RecommendedNextTopics) > 0 {
		fmt.Println("\nWhere to go next:")
		for _, tpc := range summary.RecommendedNextTopics {
			fmt.Printf("  - %s\n", tpc)
		}
	}
	fmt.Printf("\nFinal understanding: %d/100\n", sess.FinalUnderstandingScore)
	if stats != nil {
		fmt.Printf("Streak: %d day(s), %d session(s) total.\n", stats.StreakDays, stats.TotalSessions)
	}
}

func init() {
	rootCmd.AddCommand(chatCmd)
}
