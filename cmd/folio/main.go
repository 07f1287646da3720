// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/folio"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/reembed"
	"github.com/poiesic/folio/vectorstore/postgres"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func conversationFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "conversation",
		Aliases:  []string{"c"},
		Usage:    "Conversation ID",
		Required: true,
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "folio",
		Usage: "Ask questions about your documents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to YAML config file",
				Value: "folio.yaml",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Path to .env file",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to BadgerDB database directory",
			},
			&cli.StringFlag{
				Name:  "embedding-host",
				Usage: "Embedding service host URL",
			},
			&cli.StringFlag{
				Name:  "completion-host",
				Usage: "Completion service host URL",
			},
			&cli.StringFlag{
				Name:  "embedding-model",
				Usage: "Embedding model name",
			},
			&cli.StringFlag{
				Name:  "completion-model",
				Usage: "Completion model name",
			},
			&cli.BoolFlag{
				Name:  "query-rewrites",
				Usage: "Ask the completion model for query paraphrases",
			},
			&cli.StringFlag{
				Name:  "pg-dsn",
				Usage: "Store vectors in PostgreSQL with pgvector",
			},
		},
		Before: func(c *cli.Context) error {
			if err := setupLogger(c); err != nil {
				return err
			}
			return loadEnvFile(c.String("env-file"))
		},
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Index a PDF or text file as a new conversation",
				ArgsUsage: "<file>",
				Action:    ingestCommand,
			},
			{
				Name:      "ask",
				Usage:     "Ask a question about a conversation's document",
				ArgsUsage: "<question>",
				Action:    askCommand,
				Flags:     []cli.Flag{conversationFlag()},
			},
			{
				Name:   "conversations",
				Usage:  "List conversations",
				Action: conversationsCommand,
			},
			{
				Name:   "messages",
				Usage:  "Show a conversation's messages",
				Action: messagesCommand,
				Flags:  []cli.Flag{conversationFlag()},
			},
			{
				Name:   "purge-vectors",
				Usage:  "Delete a conversation's vectors",
				Action: purgeVectorsCommand,
				Flags:  []cli.Flag{conversationFlag()},
			},
			{
				Name:   "reembed",
				Usage:  "Re-read every document and rebuild its vectors with the current embedding model",
				Action: reembedCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "max-attempts", Value: 3, Usage: "attempts per document for transient failures"},
					&cli.BoolFlag{Name: "skip-failed", Usage: "only rebuild documents whose last ingestion succeeded"},
				},
			},
			{
				Name:   "rebuild-index",
				Usage:  "Rebuild the pgvector index after bulk ingestion",
				Action: rebuildIndexCommand,
			},
		},
	}
}

// openEngine builds an engine from the resolved settings. The returned
// function closes it and any vector store connection.
func openEngine(c *cli.Context) (*folio.Engine, func(), error) {
	s, err := resolveSettings(c)
	if err != nil {
		return nil, nil, err
	}

	aiConfig := s.aiConfig()
	if err := aiConfig.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid AI configuration: %w", err)
	}

	opts := []folio.Option{
		folio.WithAIConfig(aiConfig),
		folio.WithLLMRewrites(s.AI.QueryRewrites),
	}

	var pg *postgres.Provider
	if s.Postgres.DSN != "" {
		pg, err = connectPostgres(c.Context, s)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, folio.WithVectorProvider(pg))
	}

	engine, err := folio.NewEngine(s.Database, opts...)
	if err != nil {
		if pg != nil {
			pg.Close()
		}
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	return engine, func() {
		engine.Close()
		if pg != nil {
			pg.Close()
		}
	}, nil
}

func connectPostgres(ctx context.Context, s *settings) (*postgres.Provider, error) {
	var opts []postgres.Option
	if s.Postgres.Table != "" {
		opts = append(opts, postgres.WithTable(s.Postgres.Table))
	}
	if s.Postgres.Dimensions > 0 {
		opts = append(opts, postgres.WithDimensions(s.Postgres.Dimensions))
	}
	pg, err := postgres.Connect(ctx, s.Postgres.DSN, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to vector store: %w", err)
	}
	return pg, nil
}

func ingestCommand(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("file path is required")
	}

	engine, closeEngine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer closeEngine()

	conv, err := engine.IngestFile(c.Context, path)
	if conv != nil {
		fmt.Fprintf(c.App.Writer, "Conversation: %s\nStatus: %s\n", conv.ID, conv.ProcessingStatus)
	}
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	return nil
}

func askCommand(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return fmt.Errorf("question is required")
	}

	engine, closeEngine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer closeEngine()

	msg, reply, err := engine.Ask(c.Context, c.String("conversation"), question)
	if err != nil {
		return err
	}
	if reply == nil {
		fmt.Fprintf(c.App.Writer, "Question %s queued until the document finishes processing.\n", msg.ID)
		return nil
	}
	printReply(c.App.Writer, reply)
	return nil
}

func conversationsCommand(c *cli.Context) error {
	engine, closeEngine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer closeEngine()

	convs, err := engine.Conversations(c.Context)
	if err != nil {
		return err
	}
	for _, conv := range convs {
		fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\n", conv.ID, conv.ProcessingStatus, conv.Title)
	}
	return nil
}

func messagesCommand(c *cli.Context) error {
	engine, closeEngine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer closeEngine()

	msgs, err := engine.Messages(c.Context, c.String("conversation"))
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		printMessage(c.App.Writer, msg)
	}
	return nil
}

func purgeVectorsCommand(c *cli.Context) error {
	engine, closeEngine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer closeEngine()

	return engine.PurgeVectors(c.Context, c.String("conversation"))
}

func reembedCommand(c *cli.Context) error {
	engine, closeEngine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer closeEngine()

	config := reembed.DefaultConfig()
	config.MaxAttempts = c.Int("max-attempts")
	config.IncludeFailed = !c.Bool("skip-failed")

	r, err := reembed.NewReembedder(engine, config, c.App.ErrWriter, slog.Default())
	if err != nil {
		return err
	}
	_, err = r.Run(c.Context)
	return err
}

func rebuildIndexCommand(c *cli.Context) error {
	s, err := resolveSettings(c)
	if err != nil {
		return err
	}
	if s.Postgres.DSN == "" {
		return fmt.Errorf("a PostgreSQL DSN is required (--pg-dsn or %s)", envPostgresDSN)
	}

	pg, err := connectPostgres(c.Context, s)
	if err != nil {
		return err
	}
	defer pg.Close()
	return pg.RebuildIndex(c.Context)
}

func printReply(w io.Writer, reply *core.Message) {
	text := reply.FormattedText
	if text == "" {
		text = reply.Text
	}
	fmt.Fprintln(w, text)
}

func printMessage(w io.Writer, msg *core.Message) {
	switch msg.Role {
	case core.RoleUser:
		fmt.Fprintf(w, "[%s] user (%s): %s\n", msg.CreatedAt.Format("2006-01-02 15:04"), msg.Status, msg.Text)
		if msg.Error != "" {
			fmt.Fprintf(w, "  error: %s\n", msg.Error)
		}
	default:
		fmt.Fprintf(w, "[%s] assistant:\n", msg.CreatedAt.Format("2006-01-02 15:04"))
		printReply(w, msg)
	}
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
