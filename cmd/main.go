package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"tos-rag/internal/config"
)

const defaultConfigPath = "./configs/config.yaml"

var configFilePath string

var rootCmd = &cobra.Command{
	Use:   "tos-rag",
	Short: "Legal-risk assessment of terms of service and privacy pages",
	Long: `tos-rag fetches a web page and the legal documents it links to, indexes
them for the duration of one request and asks a language model for a risk
verdict against the user's intent.

Examples:
  # Serve the streaming HTTP API
  tos-rag serve

  # Analyze one page from the terminal
  tos-rag analyze --url https://example.com/terms --intent "resell the data" --rag`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFilePath, "config", defaultConfigPath, "Path to the YAML config file")
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies its logging settings. A
// missing file at the default path falls back to built-in defaults.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configFilePath)
	if err != nil {
		if !os.IsNotExist(err) || configFilePath != defaultConfigPath {
			return nil, err
		}
		log.Warn().Str("path", configFilePath).Msg("Config file not found, using defaults")
		cfg = config.Default()
		cfg.ApplyEnv()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	setupLogging(&cfg.Log)
	log.Debug().Interface("config", redacted(cfg)).Msg("Loaded config")
	return cfg, nil
}

func setupLogging(cfg *config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Level).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()
		return
	}
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()
}

func redacted(cfg *config.Config) config.Config {
	c := *cfg
	for _, k := range []*string{&c.EmbedLLM.Key, &c.InferenceLLM.Key, &c.Database.Password, &c.Weaviate.APIKey} {
		if *k != "" {
			*k = "***"
		}
	}
	return c
}
