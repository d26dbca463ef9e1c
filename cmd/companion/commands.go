package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/companion-core/core"
	"github.com/becomeliminal/companion-core/engine"
	"github.com/becomeliminal/companion-core/memory"
	"github.com/becomeliminal/companion-core/prompt"
	"github.com/becomeliminal/companion-core/retrieval"
	"github.com/becomeliminal/companion-core/situation"
)

// withEngine builds the stack, runs fn, and tears the stack down.
func withEngine(fn func(ctx context.Context, e *engine.Engine) error) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()
	return fn(context.Background(), eng)
}

var rememberCmd = &cobra.Command{
	Use:   "remember [text]",
	Short: "Store a memory about a user",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		tier, _ := cmd.Flags().GetString("tier")
		importance, _ := cmd.Flags().GetFloat64("importance")
		source, _ := cmd.Flags().GetString("source")
		activity, _ := cmd.Flags().GetString("activity")

		return withEngine(func(ctx context.Context, e *engine.Engine) error {
			m, err := e.Remember(ctx, memory.AddParams{
				UserID:     userID,
				Text:       strings.Join(args, " "),
				Tier:       memory.Tier(tier),
				Source:     source,
				Importance: importance,
				ActivityID: activity,
			})
			if err != nil {
				return err
			}
			fmt.Printf("remembered %s (tier %s, importance %.1f)\n", m.ID, m.Tier, m.Importance)
			return nil
		})
	},
}

var memoriesCmd = &cobra.Command{
	Use:   "memories",
	Short: "List a user's memories",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		includeDeleted, _ := cmd.Flags().GetBool("include-deleted")

		return withEngine(func(ctx context.Context, e *engine.Engine) error {
			mems, err := e.Memories(ctx, userID, memory.Filter{IncludeDeleted: includeDeleted})
			if err != nil {
				return err
			}
			for _, m := range mems {
				marker := " "
				if m.Deleted {
					marker = "x"
				}
				fmt.Printf("[%s] %s  %-9s %.1f  %s\n", marker, m.ID, m.Tier, m.Importance, m.Text)
			}
			fmt.Printf("%d memories\n", len(mems))
			return nil
		})
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget [id]",
	Short: "Soft-delete a memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, e *engine.Engine) error {
			ok, err := e.ForgetMemory(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("no such memory")
				return nil
			}
			fmt.Println("forgotten")
			return nil
		})
	},
}

var situateCmd = &cobra.Command{
	Use:   "situate",
	Short: "Inject a context item",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		itemType, _ := cmd.Flags().GetString("type")
		duration, _ := cmd.Flags().GetString("duration")
		source, _ := cmd.Flags().GetString("source")
		dataJSON, _ := cmd.Flags().GetString("data")

		var data situation.Data
		if dataJSON != "" {
			if err := json.Unmarshal([]byte(dataJSON), &data); err != nil {
				return fmt.Errorf("parse --data: %w", err)
			}
		}

		return withEngine(func(ctx context.Context, e *engine.Engine) error {
			it, err := e.Situate(ctx, situation.InjectParams{
				UserID:   userID,
				Type:     situation.Type(itemType),
				Duration: situation.DurationTier(duration),
				Data:     data,
				Source:   source,
			})
			if err != nil {
				return err
			}
			fmt.Printf("injected %s (%s, %s)\n", it.ID, it.Type, it.Duration)
			return nil
		})
	},
}

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "List a user's context items",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		all, _ := cmd.Flags().GetBool("all")

		return withEngine(func(ctx context.Context, e *engine.Engine) error {
			items, err := e.Context(ctx, userID, situation.Filter{IncludeInactive: all})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(items)
		})
	},
}

var recallCmd = &cobra.Command{
	Use:   "recall [query]",
	Short: "Rank a user's memories against a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		limit, _ := cmd.Flags().GetInt("limit")
		activity, _ := cmd.Flags().GetString("activity")

		opts := retrieval.Options{}
		if activity != "" {
			opts.ActivityScope = true
			opts.ActivityID = activity
		}

		return withEngine(func(ctx context.Context, e *engine.Engine) error {
			results, err := e.Recall(ctx, userID, strings.Join(args, " "), limit, opts)
			if err != nil {
				return err
			}
			for _, res := range results {
				fmt.Printf("%.2f  %s\n", res.Score, res.Memory.Text)
			}
			return nil
		})
	},
}

var promptCmd = &cobra.Command{
	Use:   "prompt [utterance]",
	Short: "Assemble the system prompt for a chat turn",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		persona, _ := cmd.Flags().GetString("persona")
		personaFile, _ := cmd.Flags().GetString("persona-file")
		taskJSON, _ := cmd.Flags().GetString("task")

		if personaFile != "" {
			raw, err := os.ReadFile(personaFile)
			if err != nil {
				return fmt.Errorf("read persona file: %w", err)
			}
			persona = strings.TrimSpace(string(raw))
		}
		var task *core.TaskState
		if taskJSON != "" {
			task = &core.TaskState{}
			if err := json.Unmarshal([]byte(taskJSON), task); err != nil {
				return fmt.Errorf("parse --task: %w", err)
			}
		}

		return withEngine(func(ctx context.Context, e *engine.Engine) error {
			out := e.BuildPrompt(ctx, prompt.BuildParams{
				UserID:    userID,
				Persona:   persona,
				Utterance: strings.Join(args, " "),
				Task:      task,
			})
			fmt.Println(out)
			return nil
		})
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one expiry sweep over memories and context",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, e *engine.Engine) error {
			start := time.Now()
			e.Sweep(ctx)
			fmt.Printf("sweep completed in %s\n", time.Since(start).Round(time.Millisecond))
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{rememberCmd, memoriesCmd, situateCmd, contextCmd, recallCmd, promptCmd} {
		c.Flags().String("user", "", "user id")
		c.MarkFlagRequired("user")
	}

	rememberCmd.Flags().String("tier", string(memory.TierMedium), "memory tier (short, medium, long, permanent)")
	rememberCmd.Flags().Float64("importance", memory.ImportanceDefault, "importance [0.1, 10]")
	rememberCmd.Flags().String("source", "", "producing source")
	rememberCmd.Flags().String("activity", "", "activity id tag")

	memoriesCmd.Flags().Bool("include-deleted", false, "include soft-deleted memories")

	situateCmd.Flags().String("type", string(situation.TypeCustom), "context type")
	situateCmd.Flags().String("duration", string(situation.DurationShort), "duration tier")
	situateCmd.Flags().String("source", "", "producing source")
	situateCmd.Flags().String("data", "", "payload as JSON")

	recallCmd.Flags().Int("limit", 10, "max results")
	recallCmd.Flags().String("activity", "", "activity scope id")

	promptCmd.Flags().String("persona", "You are a helpful companion.", "persona text")
	promptCmd.Flags().String("persona-file", "", "file containing persona text")
	promptCmd.Flags().String("task", "", "active task state as JSON")
}
