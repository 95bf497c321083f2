package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/pders01/storyfeed/internal/config"
	"github.com/pders01/storyfeed/internal/validation"
)

// Version is the version of the application, set at build time
var Version = "dev"

var (
	configPath string
	dbPath     string
	quiet      bool

	rootCmd = &cobra.Command{
		Use:           "storyfeed",
		Short:         "Story feed sync and local cache",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(*cobra.Command, []string) {
			fmt.Printf("storyfeed %s\n", Version)
			fmt.Println("Story feed sync engine")
			fmt.Println("github.com/pders01/storyfeed")
		},
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	configGenCmd = &cobra.Command{
		Use:   "generate",
		Short: "Write the default configuration to ~/.config/storyfeed/config.toml",
		Run: func(*cobra.Command, []string) {
			configFile, err := validation.NewPathValidator().ConfigPath(configPath)
			if err != nil {
				log.Fatalf("Invalid config path: %v", err)
			}
			if err := config.GenerateDefaultConfig(configFile); err != nil {
				log.Fatalf("Failed to generate config: %v", err)
			}
			fmt.Printf("Generated default configuration at: %s\n", configFile)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to database file (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "skip the banner")

	configCmd.AddCommand(configGenCmd)
	rootCmd.AddCommand(versionCmd, configCmd, syncCmd, listCmd, searchCmd, cacheCmd)
}

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}
