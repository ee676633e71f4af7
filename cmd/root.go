package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sunbk201/netrule/internal/config"
)

var (
	AppVersion    = "Development"
	shutdownChain []func() error
)

var rootCmd = &cobra.Command{
	Use:   "netrule",
	Short: "netrule evaluates port-forward, NAT and bypass rules",
	Long: "netrule keeps ordered port-forward, NAT and bypass rule lists, answers first-match " +
		"queries for session descriptors and serves the rule editor API.",
	RunE: runRoot,
}

// envKeys are bound to NETRULE_* variables even when no default exists.
var envKeys = []string{
	"log-level",
	"log-file",
	"api-server",
	"api-server-secret",
	"settings-file",
	"stats-file",
	"engine.max-rules",
	"engine.parse-cache-size",
	"reserved-ports",
	"local-addresses",
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringP("settings", "s", "", "Settings file (JSON or YAML)")
	rootCmd.Flags().BoolP("version", "v", false, "Show version")
	rootCmd.Flags().BoolP("generate-config", "g", false, "Generate template config file")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("settings-file", rootCmd.PersistentFlags().Lookup("settings"))

	viper.SetEnvPrefix("NETRULE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}
}

func initConfig() {
	configFile := viper.GetString("config")
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.MergeInConfig(); err != nil {
			slog.Error("Failed to read config file", slog.Any("error", err))
			os.Exit(1)
		}
	}
	config.SetDefaults()
}

func runRoot(cmd *cobra.Command, args []string) error {
	showVer, _ := cmd.Flags().GetBool("version")
	if showVer {
		fmt.Fprintf(cmd.OutOrStdout(), "netrule version %s\n", AppVersion)
		return nil
	}

	genConfig, _ := cmd.Flags().GetBool("generate-config")
	if genConfig {
		if _, err := config.GenerateTemplateConfig(true); err != nil {
			return fmt.Errorf("failed to generate template config: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Template config file 'config.yaml' generated successfully.")
		return nil
	}

	return runServe(cmd, args)
}

func addShutdown(name string, fn func() error) {
	shutdownChain = append(shutdownChain, func() error {
		if err := fn(); err != nil {
			slog.Error(name, slog.Any("error", err))
			return err
		}
		return nil
	})
}

func shutdown() {
	for i := len(shutdownChain) - 1; i >= 0; i-- {
		_ = shutdownChain[i]()
	}
	shutdownChain = nil
	slog.Info("netrule exit")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
