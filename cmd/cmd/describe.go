// Copyright © 2021 Jonathan Whitaker <jonathan@whitaker.io>

package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/whitaker-io/substrate"
)

// describeCmd builds the graph named by the graph key of the config file
// and prints its OperatorStructure without running it - lets an operator
// validate a pipeline definition round-trips into the shape they expect
// before handing it to run.
var describeCmd = &cobra.Command{
	Use:   "describe",
	Short: "describe - prints the structure of the graph described by the config file without executing it",
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

		structure, err := substrate.DescribeGraph(env, graph)
		if err != nil {
			fmt.Printf("error describing graph [%v]\n", err)
			os.Exit(1)
		}

		out, err := json.MarshalIndent(structure, "", "  ")
		if err != nil {
			fmt.Printf("error marshalling structure [%v]\n", err)
			os.Exit(1)
		}

		fmt.Println(string(out))
	},
}

func init() {
	rootCmd.AddCommand(describeCmd)
}
