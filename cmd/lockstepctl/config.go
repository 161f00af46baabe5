package main

import (
	"fmt"

	"github.com/danmuck/lockstep/internal/config"
	"github.com/spf13/cobra"
)

type loadFunc func() (config.Config, error)

func newConfigCmd(load loadFunc) *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Write or check deployment config files"}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write a config template with the default values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(args[0], config.Default(), force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote config template to %s\n", args[0])
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load the --config file and print the resulting frame layout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			l, err := cfg.Layout()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%d caps=%s frame=%dB (pixels=%d aux=%d trailer=%d)\n",
				cfg.ProtocolVersion, l.Caps, l.Size(), l.PrimarySize(), l.AuxSize(), l.TrailerSize())
			return nil
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}
