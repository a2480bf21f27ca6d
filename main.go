package main

import (
	"os"

	"github.com/alimasry/go-docwatch/cmd"
)

func main() {
	rootCmd := cmd.NewRootCommand()
	rootCmd.AddCommand(cmd.NewServeCommand())
	rootCmd.AddCommand(cmd.NewVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
