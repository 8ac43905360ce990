package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kollege/referralnet/internal/commission"
	"github.com/kollege/referralnet/internal/config"
	"github.com/kollege/referralnet/internal/generator"
	"github.com/kollege/referralnet/internal/graph"
	"github.com/kollege/referralnet/internal/logging"
	"github.com/kollege/referralnet/internal/notify"
	"github.com/kollege/referralnet/internal/referral"
	"github.com/kollege/referralnet/internal/repository"
)

func main() {
	_ = godotenv.Load()

	genCfg := generator.DefaultConfig()
	var (
		members        = flag.Int("members", genCfg.NumMembers, "number of members to generate")
		purchases      = flag.Int("purchases", genCfg.NumPurchases, "number of purchases to generate")
		rootChance     = flag.Float64("root-chance", genCfg.RootChance, "probability a member starts a fresh tree")
		eligibleChance = flag.Float64("eligible-chance", genCfg.EligibleChance, "probability a purchase meets the commission threshold")
		seed           = flag.Int64("seed", genCfg.Seed, "random seed for deterministic generation")
		datasetDir     = flag.String("dataset-dir", "", "load a previously written dataset instead of generating one")
		outputDir      = flag.String("output-dir", "", "write the generated dataset to this directory and exit")
		writeStdout    = flag.Bool("stdout", false, "write the generated dataset to stdout and exit")
		workers        = flag.Int("workers", 4, "number of concurrent workers for purchase replay")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging).With("component", "seed")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dataset, err := resolveDataset(ctx, generator.Config{
		NumMembers:     *members,
		NumPurchases:   *purchases,
		RootChance:     clampProbability(*rootChance),
		EligibleChance: clampProbability(*eligibleChance),
		Seed:           *seed,
	}, *datasetDir)
	if err != nil {
		logger.Error("dataset preparation failed", "error", err)
		os.Exit(1)
	}

	if *writeStdout {
		if err := json.NewEncoder(os.Stdout).Encode(dataset); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write dataset to stdout: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if *outputDir != "" {
		if err := generator.WriteDataset(dataset, *outputDir); err != nil {
			logger.Error("failed to write dataset", "error", err, "dir", *outputDir)
			os.Exit(1)
		}
		logger.Info("dataset written", "dir", *outputDir, "members", len(dataset.Members), "purchases", len(dataset.Purchases))
		return
	}

	graphClient, err := buildGraphClient(ctx, logger, cfg)
	if err != nil {
		logger.Error("failed to create graph client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := graphClient.Close(context.Background()); err != nil {
			logger.Warn("closing graph client failed", "error", err)
		}
	}()

	repo := repository.New(graphClient)
	if err := repo.EnsureSchema(ctx); err != nil {
		logger.Error("failed to ensure graph schema", "error", err)
		os.Exit(1)
	}

	referralService := referral.NewService(repo, cfg.Referral.LinkBaseURL, cfg.Referral.CodeAttempts, cfg.Referral.ConflictRetries)
	commissionService := commission.NewService(repo, notify.NewLogNotifier(logger), cfg.Referral.ConflictRetries)

	loader := generator.NewLoader(referralService, commissionService, *workers)

	start := time.Now()
	logger.Info("loading dataset", "members", len(dataset.Members), "purchases", len(dataset.Purchases), "workers", *workers)
	stats, err := loader.Load(ctx, dataset)
	if err != nil {
		logger.Error("dataset load failed", "error", err)
		os.Exit(1)
	}

	logger.Info("load complete",
		"duration", time.Since(start).String(),
		"members", stats.MembersCreated,
		"purchases", stats.PurchasesProcessed,
		"commissions", stats.CommissionsPaid,
	)
}

func resolveDataset(ctx context.Context, cfg generator.Config, datasetDir string) (generator.Dataset, error) {
	if datasetDir != "" {
		return generator.ReadDataset(datasetDir)
	}
	return generator.New(cfg).Generate(ctx)
}

func clampProbability(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func buildGraphClient(ctx context.Context, logger *slog.Logger, cfg config.Config) (graph.Client, error) {
	if cfg.Graph.URI == "" {
		return nil, fmt.Errorf("GRAPH_URI is required for seeding")
	}
	opts := graph.Options{
		URI:            cfg.Graph.URI,
		Database:       cfg.Graph.Database,
		Username:       cfg.Graph.Username,
		Password:       cfg.Graph.Password,
		MaxConnections: cfg.Graph.MaxConnections,
	}
	client, err := graph.NewNeo4jClient(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.VerifyConnectivity(ctx); err != nil {
		_ = client.Close(ctx)
		return nil, err
	}
	logger.Info("connected to graph", "uri", cfg.Graph.URI, "database", cfg.Graph.Database)
	return client, nil
}
