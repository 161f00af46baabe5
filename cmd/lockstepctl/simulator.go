package main

import (
	"context"
	"fmt"

	"github.com/danmuck/lockstep/internal/observability"
	"github.com/danmuck/lockstep/internal/script"
	"github.com/danmuck/lockstep/internal/simulator"
	"github.com/danmuck/lockstep/internal/state"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type simulatorFlags struct {
	dataPort    int
	barrierPort int
	script      string
}

func newSimulatorCmd(load loadFunc) *cobra.Command {
	var f simulatorFlags
	cmd := &cobra.Command{
		Use:   "simulator",
		Short: "Connect to a driver and serve pattern frames, optionally scored by a script",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSimulator(cmd, load, f)
		},
	}
	cmd.Flags().IntVar(&f.dataPort, "data-port", 0, "driver data port")
	cmd.Flags().IntVar(&f.barrierPort, "barrier-port", 0, "driver barrier port")
	cmd.Flags().StringVar(&f.script, "script", "", "Starlark reward script (overrides the config script key)")
	_ = cmd.MarkFlagRequired("data-port")
	_ = cmd.MarkFlagRequired("barrier-port")
	return cmd
}

func runSimulator(cmd *cobra.Command, load loadFunc, f simulatorFlags) error {
	ctx := cmd.Context()
	cfg, err := load()
	if err != nil {
		return err
	}
	scfg, err := cfg.Simulator()
	if err != nil {
		return err
	}

	env := state.New()
	var tick simulator.Script
	path := f.script
	if path == "" {
		path = cfg.Script
	}
	if path != "" {
		r, err := script.Load(path, env, cfg.ScriptConfig())
		if err != nil {
			return err
		}
		tick = r
	}

	sim, err := simulator.Connect(ctx, f.dataPort, f.barrierPort, env, scfg)
	if err != nil {
		return fmt.Errorf("connect to driver: %w", err)
	}
	defer sim.Close()
	stop := context.AfterFunc(ctx, func() { _ = sim.Close() })
	defer stop()

	if cfg.MetricsAddr != "" {
		router := observability.Router("simulator", func() gin.H {
			return gin.H{"ticks": sim.Ticks(), "turns": sim.Turns()}
		})
		go func() {
			if err := observability.Serve(ctx, cfg.MetricsAddr, router); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	if err := sim.Run(ctx, sim.PatternSource(), tick); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
