package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/rialtolabs/ragcore/internal/bootstrap"
	"github.com/rialtolabs/ragcore/internal/config"
	"github.com/rialtolabs/ragcore/internal/infrastructure/shard"
	"github.com/rialtolabs/ragcore/internal/observability/logging"
)

func main() {
	app := &cli.App{
		Name:  "ragprobe",
		Usage: "Run retrieval turns against a corpus from the command line",
		Commands: []*cli.Command{
			{
				Name:      "ask",
				Usage:     "Run one orchestrated turn and print the answer with its routing metrics",
				ArgsUsage: "<question>",
				Action:    askCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "session",
						Aliases: []string{"s"},
						Usage:   "Session id to append the turn to (random when empty)",
					},
					&cli.BoolFlag{
						Name:  "trace",
						Usage: "Print the per-stage pipeline trace",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "Turn deadline",
						Value: 2 * time.Minute,
					},
				},
			},
			{
				Name:   "shards",
				Usage:  "List the corpus shards the engine would search",
				Action: shardsCommand,
			},
			{
				Name:      "legacy",
				Usage:     "Inspect a legacy combined vectorstore export (index.npy + ids.json + docstore.json)",
				ArgsUsage: "<dir>",
				Action:    legacyCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func askCommand(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return cli.Exit("ask: question argument is required", 2)
	}

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: app.Metrics.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.Logger.Warn("metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	sessionID := c.String("session")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	turnCtx, cancel := context.WithTimeout(ctx, c.Duration("timeout"))
	defer cancel()
	result := app.Chat.HandleTurn(turnCtx, sessionID, question)

	fmt.Println(result.Answer)
	fmt.Println()
	fmt.Printf("session:    %s\n", result.SessionID)
	fmt.Printf("mode:       %s\n", result.Metrics.Mode)
	fmt.Printf("intent:     %s\n", result.Metrics.Intent)
	fmt.Printf("docs_found: %d\n", result.Metrics.DocsFound)
	fmt.Printf("best_score: %.4f (threshold %.4f)\n", result.Metrics.BestScore, result.Metrics.Threshold)
	fmt.Printf("latency:    %dms\n", result.Metrics.LatencyMS)

	if c.Bool("trace") {
		fmt.Println()
		for _, stage := range result.Trace {
			line := fmt.Sprintf("%-12s %-9s in=%-4d out=%-4d %s",
				stage.Stage, stage.Status, stage.In, stage.Out, stage.Duration.Round(time.Millisecond))
			if stage.Reason != "" {
				line += "  (" + stage.Reason + ")"
			}
			fmt.Println(line)
		}
	}
	return nil
}

func legacyCommand(c *cli.Context) error {
	dir := strings.TrimSpace(c.Args().First())
	if dir == "" {
		return cli.Exit("legacy: directory argument is required", 2)
	}

	sh, err := shard.LoadLegacy(dir)
	if err != nil {
		return fmt.Errorf("load legacy corpus: %w", err)
	}

	missing := 0
	for _, text := range sh.Chunks {
		if strings.HasPrefix(text, "[missing chunk ") {
			missing++
		}
	}
	fmt.Printf("%s\tchunks=%d dim=%d missing=%d\n", dir, len(sh.Chunks), sh.Dim, missing)
	return nil
}

func shardsCommand(c *cli.Context) error {
	cfg := config.Load()
	logger := logging.NewJSONLogger("ragprobe", cfg.LogLevel)

	store := shard.NewStore(cfg.CorpusRoot, cfg.BotProfile, logger)
	ids, err := store.List()
	if err != nil {
		return fmt.Errorf("list shards: %w", err)
	}
	if len(ids) == 0 {
		fmt.Printf("no shards under %s/%s\n", cfg.CorpusRoot, cfg.BotProfile)
		return nil
	}
	for _, id := range ids {
		sh, err := store.Load(id)
		if err != nil {
			fmt.Printf("%s\tUNREADABLE: %v\n", id, err)
			continue
		}
		fmt.Printf("%s\tchunks=%d dim=%d\n", id, len(sh.Chunks), sh.Dim)
	}
	return nil
}
