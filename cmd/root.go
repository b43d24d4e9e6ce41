// Package cmd implements the command-line interface for the ingestion
// pipeline: worker pools, queue administration, and inspection.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/NightMareKD/crawler-medicine/cmd/crawl"
	"github.com/NightMareKD/crawler-medicine/cmd/enqueue"
	"github.com/NightMareKD/crawler-medicine/cmd/ocr"
	"github.com/NightMareKD/crawler-medicine/cmd/purge"
	"github.com/NightMareKD/crawler-medicine/cmd/stats"
	"github.com/NightMareKD/crawler-medicine/internal/config"
)

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	// Debug enables debug logging for all commands.
	Debug bool

	rootCmd = &cobra.Command{
		Use:   "crawler-medicine",
		Short: "Durable document-ingestion pipeline",
		Long: `A document-ingestion pipeline built on durable work queues: crawl
workers fetch and deduplicate URLs, segregate embedded assets to blob
storage, and OCR workers fold recognized text back into the canonical
document records.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	// Load .env early so environment variables are visible to flag parsing.
	_ = godotenv.Load()

	// Parse flags early so --debug and --config are known before Viper reads.
	_ = rootCmd.ParseFlags(os.Args[1:])

	if err := initConfig(); err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&Debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(crawl.Command())
	rootCmd.AddCommand(ocr.Command())
	rootCmd.AddCommand(enqueue.Command())
	rootCmd.AddCommand(purge.Command())
	rootCmd.AddCommand(stats.Command())
}

// initConfig reads the config file and environment variables into Viper.
func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	// Environment variables take precedence over defaults.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	config.SetDefaults()

	// Config file is optional: environment variables and defaults cover a
	// full deployment.
	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: config file not found: %v (using defaults and environment variables)\n", err)
	}

	if err := viper.BindPFlag("app.debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("failed to bind debug flag: %w", err)
	}

	if err := config.BindEnvVars(); err != nil {
		return err
	}

	if Debug || viper.GetBool("app.debug") {
		viper.Set("logger.level", "debug")
		viper.Set("logger.development", true)
		viper.Set("logger.encoding", "console")
	}

	return nil
}
