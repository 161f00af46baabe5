package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/danmuck/lockstep/internal/driver"
	"github.com/danmuck/lockstep/internal/observability"
	"github.com/danmuck/lockstep/internal/protocol/action"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type driverFlags struct {
	policy string
	steps  int
	seed   int64
}

func newDriverCmd(load loadFunc) *cobra.Command {
	var f driverFlags
	cmd := &cobra.Command{
		Use:   "driver",
		Short: "Bind the data and barrier ports and drive a simulator",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDriver(cmd, load, f)
		},
	}
	cmd.Flags().StringVar(&f.policy, "policy", "nop", "action policy: nop|random")
	cmd.Flags().IntVar(&f.steps, "steps", 0, "stop and kill the simulator after this many steps (0 runs until interrupted)")
	cmd.Flags().Int64Var(&f.seed, "seed", 1, "random policy seed")
	return cmd
}

func policyFor(name string, seed int64) (driver.Policy, error) {
	switch name {
	case "nop":
		return driver.NopPolicy, nil
	case "random":
		rng := rand.New(rand.NewSource(seed))
		return driver.PolicyFunc(func(driver.Observation) ([]byte, error) {
			a := action.Nop()
			for i := range a.Keys {
				a.Keys[i] = rng.Intn(8) == 0
			}
			a.MouseX = int16(rng.Intn(2001) - 1000)
			a.MouseY = int16(rng.Intn(2001) - 1000)
			return a.Encode(), nil
		}), nil
	default:
		return nil, fmt.Errorf("unknown policy %q", name)
	}
}

func runDriver(cmd *cobra.Command, load loadFunc, f driverFlags) error {
	ctx := cmd.Context()
	cfg, err := load()
	if err != nil {
		return err
	}
	dcfg, err := cfg.Driver()
	if err != nil {
		return err
	}
	policy, err := policyFor(f.policy, f.seed)
	if err != nil {
		return err
	}

	d, err := driver.Listen(dcfg)
	if err != nil {
		return err
	}
	defer d.Close()

	dataPort, barrierPort := d.Ports()
	fmt.Fprintf(cmd.OutOrStdout(), "data_port=%d barrier_port=%d\n", dataPort, barrierPort)

	if cfg.MetricsAddr != "" {
		router := observability.Router("driver", func() gin.H { return gin.H{"steps": d.Steps()} })
		go func() {
			if err := observability.Serve(ctx, cfg.MetricsAddr, router); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	// Close unblocks Accept and any pending turn on interrupt.
	stop := context.AfterFunc(ctx, func() { _ = d.Close() })
	defer stop()

	if err := d.Accept(cfg.AcceptTimeout); err != nil {
		return err
	}
	if err := d.Warmup(); err != nil {
		return err
	}

	start := time.Now()
	var episodeReward float64
	for f.steps == 0 || d.Steps() < f.steps {
		res, err := d.Step(policy)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		episodeReward += res.Reward
		if res.Terminated || res.Truncated {
			log.Info().Int("step", res.Step).Bool("truncated", res.Truncated).Float64("reward", episodeReward).Msg("episode finished")
			episodeReward = 0
			if _, err := d.Terminate(); err != nil {
				return err
			}
		}
	}

	log.Info().Int("steps", d.Steps()).Dur("elapsed", time.Since(start)).Msg("driver done")
	return d.Kill()
}
