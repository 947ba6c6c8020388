package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/opsguide/opsguide-ai/internal/audit"
	"github.com/opsguide/opsguide-ai/internal/classifier"
	"github.com/opsguide/opsguide-ai/internal/models"
)

func newClassifyCmd(a *app) *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:   "classify <query>",
		Short: "Classify a query without running the server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := offlineRequest(args, env, "cli")
			return a.printJSON(classifier.NewPatternClassifier().Classify(req))
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "environment to attach to the request")
	return cmd
}

func newPlanCmd(a *app) *cobra.Command {
	var (
		mode string
		env  string
		user string
	)
	cmd := &cobra.Command{
		Use:   "plan <query>",
		Short: "Print the decision artifact for a query",
		Long:  "Runs the decision pipeline locally with the configured knowledge and LLM provider. No steps are executed.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, cfg, err := loadConfig(ctx, a.configPath)
			if err != nil {
				return err
			}
			// Offline runs never touch the approval trail.
			cfg.Database.Enabled = false

			comps, err := buildComponents(ctx, cfg, audit.NewNopLogger())
			if err != nil {
				return err
			}
			defer comps.Close()

			m := models.ModeCore
			if strings.EqualFold(mode, string(models.ModeRAG)) {
				m = models.ModeRAG
			}
			artifact, err := comps.orchestrator.Process(ctx, offlineRequest(args, env, user), m, nil)
			if err != nil {
				return err
			}
			return a.printJSON(artifact)
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", string(models.ModeCore), "pipeline mode (core|rag)")
	cmd.Flags().StringVar(&env, "env", "", "environment to attach to the request")
	cmd.Flags().StringVar(&user, "user", "cli", "user id recorded on the request")
	return cmd
}

func offlineRequest(args []string, env, user string) *models.OperationalRequest {
	return &models.OperationalRequest{
		RequestID:   uuid.NewString(),
		UserID:      user,
		Query:       strings.Join(args, " "),
		Environment: env,
		Timestamp:   time.Now(),
	}
}

func (a *app) printJSON(v interface{}) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
