package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/projectpulse/projectpulse/pulseservice"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "pulse",
		Short: "Project pulse service: sheet mirror, reports and daily plans",
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service with background sync and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return pulseservice.Run()
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle against the configured sheet and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return pulseservice.RunSyncOnce()
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
