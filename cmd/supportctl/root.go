package main

import (
	"github.com/spf13/cobra"

	"github.com/spec-kit/student-support/internal/config"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "supportctl",
		Short:         "Operator tooling for the student support service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(newTokenCmd(config.Load))
	root.AddCommand(newMigrateCmd(config.Load))
	return root
}
