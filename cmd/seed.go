package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agora-labs/agora/internal/agent"
	"github.com/agora-labs/agora/internal/channel"
	"github.com/agora-labs/agora/internal/clock"
	"github.com/agora-labs/agora/internal/config"
	"github.com/agora-labs/agora/internal/platform"
	"github.com/agora-labs/agora/internal/recsys"
	"github.com/agora-labs/agora/internal/store"
)

var seedCmd = &cobra.Command{
	Use:   "seed [roster.yaml]",
	Short: "Register the agent roster in the platform database",
	Long: `Seed reads an agent roster and signs each profile up through the
dispatcher, so a later run starts from a populated user table. Already
registered profiles are skipped. The roster path defaults to
simulation.agents_file from the config.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		return seedRoster(cmd.Context(), path)
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func seedRoster(ctx context.Context, rosterPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if rosterPath == "" {
		rosterPath = cfg.Simulation.AgentsFile
	}
	if rosterPath == "" {
		return fmt.Errorf("no roster given and simulation.agents_file is empty")
	}
	log := newLogger()

	profiles, err := agent.LoadProfiles(rosterPath)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Platform.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	start, err := cfg.Simulation.StartTimeOrDefault()
	if err != nil {
		return err
	}
	clk := clock.New(start, cfg.Simulation.MinutesPerTick)

	ch := channel.New[platform.Action, platform.Result](cfg.Platform.QueueDepth)
	p := platform.New(log, st, ch, clk, &recsys.EngagementScorer{}, platform.Config{}, nil)
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	created := 0
	for _, profile := range profiles {
		exists, err := st.UserExists(profile.AgentID)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		res, err := ch.Call(ctx, platform.Action{
			AgentID: profile.AgentID,
			Type:    platform.ActionSignUp,
			Payload: platform.SignUpArgs{
				UserName: profile.UserName,
				Name:     profile.Name,
				Bio:      profile.Bio,
			},
		})
		if err != nil {
			return fmt.Errorf("sign up agent %d: %w", profile.AgentID, err)
		}
		if !res.Success {
			return fmt.Errorf("sign up agent %d: %s", profile.AgentID, res.Error)
		}
		created++
	}

	if _, err := ch.Call(ctx, platform.Action{Type: platform.ActionExit}); err != nil {
		return err
	}
	if err := <-done; err != nil {
		return err
	}

	log.Info("seed.done", "roster", rosterPath, "created", created, "total", len(profiles))
	return nil
}
