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
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/intake"
	"github.com/poiesic/folio/worker"
	"github.com/urfave/cli/v2"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	workerDefaults := worker.DefaultConfig()
	aiDefaults := ai.DefaultConfig()

	return &cli.App{
		Name:  "folio",
		Usage: "Resumable document ingestion into a concept graph",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"FOLIO_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "db-driver",
				Usage:   "Document store dialect (sqlite, postgres)",
				Value:   "sqlite",
				EnvVars: []string{"FOLIO_DB_DRIVER"},
			},
			&cli.StringFlag{
				Name:    "db-dsn",
				Aliases: []string{"d"},
				Usage:   "SQLite file path or PostgreSQL connection URI",
				Value:   "folio.db",
				EnvVars: []string{"FOLIO_DB_DSN"},
			},
			&cli.StringFlag{
				Name:    "cache-dir",
				Usage:   "BadgerDB embedding cache directory (empty disables the cache)",
				EnvVars: []string{"FOLIO_CACHE_DIR"},
			},
			&cli.DurationFlag{
				Name:    "cache-ttl",
				Usage:   "Expire cached embeddings after this long (0 keeps them)",
				EnvVars: []string{"FOLIO_CACHE_TTL"},
			},
			&cli.StringFlag{
				Name:    "ai-host",
				Usage:   "OpenAI-compatible service base URL",
				Value:   "http://localhost:11434/v1",
				EnvVars: []string{"FOLIO_AI_HOST"},
			},
			&cli.StringFlag{
				Name:    "embedding-host",
				Usage:   "Embedding service base URL (defaults to ai-host)",
				EnvVars: []string{"FOLIO_EMBEDDING_HOST"},
			},
			&cli.StringFlag{
				Name:    "extraction-host",
				Usage:   "Chat service base URL (defaults to ai-host)",
				EnvVars: []string{"FOLIO_EXTRACTION_HOST"},
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "API key sent to the AI service",
				Value:   "none",
				EnvVars: []string{"FOLIO_API_KEY"},
			},
			&cli.StringFlag{
				Name:    "embedding-model",
				Usage:   "Embedding model name",
				Value:   "nomic-embed-text",
				EnvVars: []string{"FOLIO_EMBEDDING_MODEL"},
			},
			&cli.StringFlag{
				Name:    "extraction-model",
				Usage:   "Chat model used for concept extraction and relationship inference",
				Value:   "qwen2.5:7b",
				EnvVars: []string{"FOLIO_EXTRACTION_MODEL"},
			},
			&cli.DurationFlag{
				Name:    "embedding-timeout",
				Usage:   "Timeout for one embedding call",
				Value:   aiDefaults.EmbeddingTimeout,
				EnvVars: []string{"FOLIO_EMBEDDING_TIMEOUT"},
			},
			&cli.DurationFlag{
				Name:    "llm-timeout",
				Usage:   "Timeout for one chat call",
				Value:   aiDefaults.LLMTimeout,
				EnvVars: []string{"FOLIO_LLM_TIMEOUT"},
			},
			&cli.IntFlag{
				Name:    "max-embedding-tokens",
				Usage:   "Token bound over-long embedding input is truncated to",
				Value:   aiDefaults.MaxEmbeddingTokens,
				EnvVars: []string{"FOLIO_MAX_EMBEDDING_TOKENS"},
			},
			&cli.IntFlag{
				Name:    "ai-retries",
				Usage:   "Retries of a rate-limited or unavailable AI call",
				Value:   aiDefaults.Retry.MaxRetries,
				EnvVars: []string{"FOLIO_AI_RETRIES"},
			},
			&cli.DurationFlag{
				Name:    "ai-retry-delay",
				Usage:   "First wait before retrying an AI call; later waits double",
				Value:   aiDefaults.Retry.InitialInterval,
				EnvVars: []string{"FOLIO_AI_RETRY_DELAY"},
			},
			&cli.StringFlag{
				Name:    "objects-dir",
				Usage:   "Local directory serving as the object store",
				EnvVars: []string{"FOLIO_OBJECTS_DIR"},
			},
			&cli.StringFlag{
				Name:    "s3-bucket",
				Usage:   "S3 bucket serving as the object store (takes precedence over objects-dir)",
				EnvVars: []string{"FOLIO_S3_BUCKET"},
			},
			&cli.StringFlag{
				Name:    "s3-region",
				Usage:   "S3 region",
				EnvVars: []string{"FOLIO_S3_REGION"},
			},
			&cli.StringFlag{
				Name:    "s3-endpoint",
				Usage:   "S3-compatible endpoint URL, e.g. a MinIO server",
				EnvVars: []string{"FOLIO_S3_ENDPOINT"},
			},
			&cli.StringFlag{
				Name:    "s3-access-key",
				Usage:   "S3 access key (defaults to the AWS credential chain)",
				EnvVars: []string{"FOLIO_S3_ACCESS_KEY"},
			},
			&cli.StringFlag{
				Name:    "s3-secret-key",
				Usage:   "S3 secret key",
				EnvVars: []string{"FOLIO_S3_SECRET_KEY"},
			},
			&cli.BoolFlag{
				Name:    "s3-path-style",
				Usage:   "Address the bucket in the URL path",
				EnvVars: []string{"FOLIO_S3_PATH_STYLE"},
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Apply document store migrations",
				Action: migrateCommand,
			},
			{
				Name:      "ingest",
				Usage:     "Parse, validate and chunk local files into the document store",
				ArgsUsage: "<file>...",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:    "parse-timeout",
						Usage:   "Abandon parsing a document after this long",
						Value:   intake.DefaultParseTimeout,
						EnvVars: []string{"FOLIO_PARSE_TIMEOUT"},
					},
				},
			},
			{
				Name:   "replay",
				Usage:  "Run intake on one object from the object store",
				Action: replayCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "key",
						Aliases:  []string{"k"},
						Usage:    "Object key to ingest",
						Required: true,
					},
				},
			},
			{
				Name:   "work",
				Usage:  "Run one batch worker invocation",
				Action: workCommand,
				Flags:  workerFlags(workerDefaults),
			},
			{
				Name:   "serve",
				Usage:  "Run the batch worker on a schedule and poll the object store for new documents",
				Action: serveCommand,
				Flags: append(workerFlags(workerDefaults),
					&cli.StringFlag{
						Name:    "prefix",
						Usage:   "Only poll object keys under this prefix",
						EnvVars: []string{"FOLIO_POLL_PREFIX"},
					},
					&cli.DurationFlag{
						Name:    "poll-interval",
						Usage:   "Time between object store polls",
						Value:   intake.DefaultPollInterval,
						EnvVars: []string{"FOLIO_POLL_INTERVAL"},
					},
				),
			},
			{
				Name:  "pass",
				Usage: "Run a relationship pass over the concept graph",
				Subcommands: []*cli.Command{
					{
						Name:   "source",
						Usage:  "Infer relationships among each completed source's concepts",
						Action: sourcePassCommand,
					},
					{
						Name:   "cross-source",
						Usage:  "Infer relationships among concepts shared by several sources",
						Action: crossSourcePassCommand,
						Flags:  []cli.Flag{dryRunFlag()},
					},
					{
						Name:   "similarity",
						Usage:  "Link concepts whose embeddings are nearly identical",
						Action: similarityPassCommand,
						Flags:  []cli.Flag{dryRunFlag()},
					},
				},
			},
			{
				Name:  "cache",
				Usage: "Inspect or purge the embedding cache",
				Subcommands: []*cli.Command{
					{
						Name:   "stats",
						Usage:  "Count cached embeddings",
						Action: cacheStatsCommand,
					},
					{
						Name:   "purge",
						Usage:  "Remove the embeddings cached for a model",
						Action: cachePurgeCommand,
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "model",
								Usage:    "Embedding model whose entries are removed",
								Required: true,
							},
						},
					},
				},
			},
			{
				Name:   "status",
				Usage:  "Show pending work and per-source progress",
				Action: statusCommand,
				Flags: []cli.Flag{
					&cli.Int64Flag{
						Name:  "source",
						Usage: "Show chunk progress for one source id",
					},
				},
			},
		},
	}
}

func workerFlags(defaults worker.Config) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "embedding-batch",
			Usage:   "Chunks claimed for embedding per run",
			Value:   defaults.EmbeddingBatchSize,
			EnvVars: []string{"FOLIO_EMBEDDING_BATCH"},
		},
		&cli.IntFlag{
			Name:    "concept-batch",
			Usage:   "Chunks claimed for concept extraction per run",
			Value:   defaults.ConceptBatchSize,
			EnvVars: []string{"FOLIO_CONCEPT_BATCH"},
		},
		&cli.IntFlag{
			Name:    "max-attempts",
			Usage:   "Extraction attempts before a chunk is marked FAILED",
			Value:   defaults.MaxExtractionAttempts,
			EnvVars: []string{"FOLIO_MAX_ATTEMPTS"},
		},
		&cli.IntFlag{
			Name:    "extraction-concurrency",
			Usage:   "Concurrent concept extraction calls",
			Value:   defaults.ExtractionConcurrency,
			EnvVars: []string{"FOLIO_EXTRACTION_CONCURRENCY"},
		},
		&cli.IntFlag{
			Name:    "embedding-concurrency",
			Usage:   "Concurrent embedding calls",
			Value:   defaults.EmbeddingConcurrency,
			EnvVars: []string{"FOLIO_EMBEDDING_CONCURRENCY"},
		},
		&cli.DurationFlag{
			Name:    "soft-budget",
			Usage:   "Stop starting new work after this long",
			Value:   defaults.SoftBudget,
			EnvVars: []string{"FOLIO_SOFT_BUDGET"},
		},
		&cli.DurationFlag{
			Name:    "hard-limit",
			Usage:   "Cancel a run after this long",
			Value:   defaults.HardLimit,
			EnvVars: []string{"FOLIO_HARD_LIMIT"},
		},
		&cli.DurationFlag{
			Name:    "interval",
			Usage:   "Time between scheduled runs",
			Value:   defaults.Interval,
			EnvVars: []string{"FOLIO_WORKER_INTERVAL"},
		},
	}
}

func dryRunFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "dry-run",
		Usage: "Report what would be created without writing",
	}
}

func workerConfig(c *cli.Context) worker.Config {
	return worker.Config{
		EmbeddingBatchSize:    c.Int("embedding-batch"),
		ConceptBatchSize:      c.Int("concept-batch"),
		MaxExtractionAttempts: c.Int("max-attempts"),
		ExtractionConcurrency: c.Int("extraction-concurrency"),
		EmbeddingConcurrency:  c.Int("embedding-concurrency"),
		MaxEmbeddingTokens:    c.Int("max-embedding-tokens"),
		SoftBudget:            c.Duration("soft-budget"),
		HardLimit:             c.Duration("hard-limit"),
		Interval:              c.Duration("interval"),
	}
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level charmlog.Level
	switch levelStr {
	case "debug":
		level = charmlog.DebugLevel
	case "info":
		level = charmlog.InfoLevel
	case "warn":
		level = charmlog.WarnLevel
	case "error":
		level = charmlog.ErrorLevel
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	handler := charmlog.NewWithOptions(c.App.ErrWriter, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Level:           level,
	})
	slog.SetDefault(slog.New(handler))
	return nil
}
