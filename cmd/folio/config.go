package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/poiesic/folio/ai"
)

// Environment variables that override the config file.
const (
	envEmbeddingHost  = "FOLIO_EMBEDDING_HOST"
	envCompletionHost = "FOLIO_COMPLETION_HOST"
	envAPIToken       = "FOLIO_API_TOKEN"
	envPostgresDSN    = "FOLIO_PG_DSN"
)

type settings struct {
	Database string     `yaml:"database"`
	AI       aiSettings `yaml:"ai"`
	Postgres pgSettings `yaml:"postgres"`
}

type aiSettings struct {
	EmbeddingHost        string  `yaml:"embedding_host"`
	CompletionHost       string  `yaml:"completion_host"`
	EmbeddingModel       string  `yaml:"embedding_model"`
	CompletionModel      string  `yaml:"completion_model"`
	Token                string  `yaml:"token"`
	BatchSize            int     `yaml:"batch_size"`
	MaxConcurrentBatches int     `yaml:"max_concurrent_batches"`
	RequestsPerSecond    float64 `yaml:"requests_per_second"`
	Temperature          float64 `yaml:"temperature"`
	QueryRewrites        bool    `yaml:"query_rewrites"`
}

type pgSettings struct {
	DSN        string `yaml:"dsn"`
	Table      string `yaml:"table"`
	Dimensions int    `yaml:"dimensions"`
}

func defaultSettings() *settings {
	defaults := ai.DefaultConfig()
	return &settings{
		Database: "folio.db",
		AI: aiSettings{
			EmbeddingHost:        defaults.EmbeddingHost,
			CompletionHost:       defaults.CompletionHost,
			EmbeddingModel:       defaults.EmbeddingModel,
			CompletionModel:      defaults.CompletionModel,
			Token:                defaults.Token,
			BatchSize:            defaults.BatchSize,
			MaxConcurrentBatches: defaults.MaxConcurrentBatches,
			Temperature:          defaults.Temperature,
		},
	}
}

// loadSettings reads a YAML config file over the defaults. A missing file is
// only an error when required is set.
func loadSettings(path string, required bool) (*settings, error) {
	s := defaultSettings()
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return s, nil
}

// loadEnvFile loads KEY=value pairs into the environment without overriding
// variables that are already set.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides settings from environment variables.
func (s *settings) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(envEmbeddingHost); ok && v != "" {
		s.AI.EmbeddingHost = v
	}
	if v, ok := lookup(envCompletionHost); ok && v != "" {
		s.AI.CompletionHost = v
	}
	if v, ok := lookup(envAPIToken); ok && v != "" {
		s.AI.Token = v
	}
	if v, ok := lookup(envPostgresDSN); ok && v != "" {
		s.Postgres.DSN = v
	}
}

// applyFlags overrides settings with flags given on the command line.
func (s *settings) applyFlags(c *cli.Context) {
	if c.IsSet("db") {
		s.Database = c.String("db")
	}
	if c.IsSet("embedding-host") {
		s.AI.EmbeddingHost = c.String("embedding-host")
	}
	if c.IsSet("completion-host") {
		s.AI.CompletionHost = c.String("completion-host")
	}
	if c.IsSet("embedding-model") {
		s.AI.EmbeddingModel = c.String("embedding-model")
	}
	if c.IsSet("completion-model") {
		s.AI.CompletionModel = c.String("completion-model")
	}
	if c.IsSet("query-rewrites") {
		s.AI.QueryRewrites = c.Bool("query-rewrites")
	}
	if c.IsSet("pg-dsn") {
		s.Postgres.DSN = c.String("pg-dsn")
	}
}

func (s *settings) aiConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(s.AI.EmbeddingHost),
		ai.WithCompletionHost(s.AI.CompletionHost),
		ai.WithEmbeddingModel(s.AI.EmbeddingModel),
		ai.WithCompletionModel(s.AI.CompletionModel),
		ai.WithToken(s.AI.Token),
		ai.WithBatchSize(s.AI.BatchSize),
		ai.WithMaxConcurrentBatches(s.AI.MaxConcurrentBatches),
		ai.WithRequestsPerSecond(s.AI.RequestsPerSecond),
		ai.WithTemperature(s.AI.Temperature),
	)
}

// resolveSettings layers the config file, environment and flags.
func resolveSettings(c *cli.Context) (*settings, error) {
	s, err := loadSettings(c.String("config"), c.IsSet("config"))
	if err != nil {
		return nil, err
	}
	s.applyEnv(os.LookupEnv)
	s.applyFlags(c)
	return s, nil
}
