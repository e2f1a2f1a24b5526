// Copyright © 2021 Jonathan Whitaker <jonathan@whitaker.io>

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/whitaker-io/substrate"
)

const (
	environmentKey = "environment"
	graphKey       = "graph"
	gracePeriodKey = "grace_period"
)

// runCmd loads an EnvironmentConfig and a pipeline GraphSerialization from
// $HOME/.substrate.yaml (or --config) and executes it until the process
// receives an interrupt - the config-driven counterpart of the teacher's
// serveCmd, built on substrate.LoadGraph/Environment.Execute instead of
// machine.Pipe.Load/Run.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run - executes the pipeline described by the environment and graph keys of the config file",
	Run: func(cmd *cobra.Command, args []string) {
		env, err := loadEnvironment()
		if err != nil {
			fmt.Printf("error loading environment [%v]\n", err)
			os.Exit(1)
		}

		graph := &substrate.GraphSerialization{}
		if err := viper.UnmarshalKey(graphKey, graph); err != nil {
			fmt.Printf("error unmarshalling graph [%v]\n", err)
			os.Exit(1)
		}

		if err := substrate.LoadGraph(env, graph); err != nil {
			fmt.Printf("error loading graph [%v]\n", err)
			os.Exit(1)
		}

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			<-quit
			gracePeriod := viper.GetDuration(gracePeriodKey)
			time.AfterFunc(gracePeriod, cancel)
		}()

		if err := env.Execute(ctx); err != nil {
			fmt.Printf("error executing pipeline [%v]\n", err)
			os.Exit(1)
		}
	},
}

func loadEnvironment() (*substrate.Environment, error) {
	cfg := &substrate.EnvironmentConfig{}
	if err := viper.UnmarshalKey(environmentKey, cfg); err != nil {
		return nil, err
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	return substrate.NewEnvironment(cfg), nil
}

func init() {
	rootCmd.AddCommand(runCmd)
}
