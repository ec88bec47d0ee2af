package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agora-labs/agora/internal/agent"
	"github.com/agora-labs/agora/internal/channel"
	"github.com/agora-labs/agora/internal/clock"
	"github.com/agora-labs/agora/internal/config"
	"github.com/agora-labs/agora/internal/inference"
	"github.com/agora-labs/agora/internal/metrics"
	"github.com/agora-labs/agora/internal/platform"
	"github.com/agora-labs/agora/internal/recsys"
	"github.com/agora-labs/agora/internal/sim"
	"github.com/agora-labs/agora/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulation to completion",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runSimulation(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runSimulation(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	log := newLogger()

	if len(cfg.Inference.Backends) == 0 {
		return fmt.Errorf("no inference backends configured")
	}
	if cfg.Simulation.AgentsFile == "" {
		return fmt.Errorf("simulation.agents_file is required")
	}
	profiles, err := agent.LoadProfiles(cfg.Simulation.AgentsFile)
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

	met := metrics.New()
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", met.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info("metrics.listening", "addr", cfg.Metrics.Listen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("metrics.server.failed", "error", err)
			}
		}()
		defer srv.Close()
	}

	platformCh := channel.New[platform.Action, platform.Result](cfg.Platform.QueueDepth)
	p := platform.New(log, st, platformCh, clk, &recsys.EngagementScorer{}, platform.Config{
		RefreshRecPostCount: cfg.Platform.RefreshRecPostCount,
		MaxRecPostLen:       cfg.Platform.MaxRecPostLen,
		FollowingPostCount:  cfg.Platform.FollowingPostCount,
		RecTableSize:        cfg.Recsys.TableSize,
		RecWorkers:          cfg.Recsys.Workers,
	}, met)
	platformDone := make(chan error, 1)
	go func() { platformDone <- p.Run(ctx) }()

	inferenceCh := channel.New[[]inference.Message, string](cfg.Inference.QueueDepth)
	mgr := inference.NewManager(log, inferenceCh, cfg.Inference.Backends, met)
	if err := mgr.Start(ctx); err != nil {
		return err
	}

	agents, err := enrollAgents(ctx, log, platformCh, inferenceCh, profiles, cfg.Inference.RetryLimit, st)
	if err != nil {
		return err
	}
	log.Info("sim.starting", "agents", len(agents), "ticks", cfg.Simulation.Ticks)

	sched := sim.New(log, clk, platformCh, mgr, agents, cfg.Simulation.Ticks, cfg.Simulation.Seed, met)
	runErr := sched.Run(ctx)

	if err := <-platformDone; err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// enrollAgents registers any profile the store does not know yet, going
// through the dispatcher like every other mutation, then builds a turn
// controller per profile.
func enrollAgents(ctx context.Context, log *slog.Logger, platformCh *platform.Channel, inferenceCh *inference.Channel, profiles []agent.Profile, retryLimit int, st *store.Store) ([]*agent.Agent, error) {
	agents := make([]*agent.Agent, 0, len(profiles))
	for _, profile := range profiles {
		exists, err := st.UserExists(profile.AgentID)
		if err != nil {
			return nil, err
		}
		if !exists {
			res, err := platformCh.Call(ctx, platform.Action{
				AgentID: profile.AgentID,
				Type:    platform.ActionSignUp,
				Payload: platform.SignUpArgs{
					UserName: profile.UserName,
					Name:     profile.Name,
					Bio:      profile.Bio,
				},
			})
			if err != nil {
				return nil, fmt.Errorf("sign up agent %d: %w", profile.AgentID, err)
			}
			if !res.Success {
				return nil, fmt.Errorf("sign up agent %d: %s", profile.AgentID, res.Error)
			}
		}
		agents = append(agents, agent.New(log, profile, platformCh, inferenceCh, retryLimit))
	}
	return agents, nil
}
