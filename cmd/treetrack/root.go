package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "treetrack",
	Short: "Directed task-graph backend with generative planning",
	Long: `TreeTrack keeps per-user projects of tasks connected by precedence
dependencies, guarantees the graph stays acyclic, and can grow or edit a
plan from a natural-language goal through a generative provider.`,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ./treetrack.yaml, $HOME/.treetrack/treetrack.yaml)")

	rootCmd.AddCommand(serveCmd)
}

// initConfig loads settings from the config file and the environment.
// Every key is overridable via TREETRACK_* variables, e.g.
// TREETRACK_SESSION_SECRET or TREETRACK_ANTHROPIC_API_KEY.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("treetrack")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.treetrack")
	}

	viper.SetEnvPrefix("TREETRACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("listen_addr", ":3001")
	viper.SetDefault("db_path", "data/treetrack.db")
	viper.SetDefault("session_ttl", "168h")
	viper.SetDefault("allowed_origins", []string{"http://localhost:5173", "http://localhost:3000"})
	viper.SetDefault("anthropic_model", "claude-sonnet-4-5")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("login_limit", 5)
	viper.SetDefault("login_window", "15m")

	// A missing config file is fine; env and defaults carry the day.
	_ = viper.ReadInConfig()
}
