// Command consultd runs the consulting engine from the terminal: a
// one-shot question answerer for development and smoke testing.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/valtricai/consulting-engine/internal/profile"
	"github.com/valtricai/consulting-engine/plugin/cache"
	"github.com/valtricai/consulting-engine/server/ai"
	"github.com/valtricai/consulting-engine/server/consulting"
	"github.com/valtricai/consulting-engine/server/finops"
	"github.com/valtricai/consulting-engine/server/retrieval"
	"github.com/valtricai/consulting-engine/server/routing"
	"github.com/valtricai/consulting-engine/server/vector"
)

var (
	configFile string
	personaArg string
	scopeArg   string
	topK       int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "consultd",
		Short: "Retrieval fusion and model routing engine",
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a yaml config file (env vars with VALTRIC_ prefix also apply)")

	askCmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question against the configured corpora",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}
	askCmd.Flags().StringVar(&personaArg, "persona", "partner", "consultant persona: associate, partner, senior_partner")
	askCmd.Flags().StringVar(&scopeArg, "scope", "", "tenant/project scope id (required)")
	askCmd.Flags().IntVar(&topK, "k", 0, "evidence list cap (0 uses the configured default)")
	_ = askCmd.MarkFlagRequired("scope")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := profile.Load(configFile)
			if err != nil {
				return err
			}
			if err := p.Validate(); err != nil {
				return err
			}
			cmd.Println("configuration ok")
			return nil
		},
	}

	rootCmd.AddCommand(askCmd, validateCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runAsk(cmd *cobra.Command, args []string) error {
	p, err := profile.Load(configFile)
	if err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}

	level := slog.LevelInfo
	if p.IsDev() {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	engine, err := buildEngine(p, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resp, err := engine.Answer(ctx, consulting.Request{
		Query:   strings.Join(args, " "),
		Persona: personaArg,
		ScopeID: scopeArg,
		K:       topK,
	})
	if err != nil {
		return err
	}

	cmd.Println(resp.Answer)
	cmd.Printf("\n--\nmodel=%s tier=%s partial=%t evidence=%d cost_usd=%.6f latency_ms=%d trace=%s\n",
		resp.Decision.Model, resp.Decision.Tier, resp.Partial, len(resp.Evidence.Candidates),
		resp.Telemetry.CostUSD, resp.Telemetry.LatencyMs, resp.Telemetry.TraceID)
	return nil
}

// buildEngine wires the full stack from the profile.
func buildEngine(p *profile.Profile, logger *slog.Logger) (*consulting.Engine, error) {
	provider := ai.NewProvider(&ai.Config{
		BaseURL:        p.OpenAIBaseURL,
		APIKey:         p.OpenAIAPIKey,
		EmbeddingModel: p.EmbeddingModel,
		MaxRetries:     p.RetryMaxAttempts,
		BaseDelay:      p.RetryBaseDelay,
		Multiplier:     p.RetryMultiplier,
	})

	embedCache := cache.NewVectorCache(p.CacheCapacity, p.CacheTTL)
	embedder := ai.NewEmbedder(provider, embedCache, p.EmbeddingModel, p.EmbeddingDimensions, p.EmbeddingMaxChars)

	global, tenant, err := openSources(p)
	if err != nil {
		return nil, err
	}

	retriever := retrieval.NewRetriever(embedder, global, tenant, retrieval.Config{
		FusionConstant: p.FusionConstant,
		SearchTimeout:  p.SearchTimeout,
		DedupEnabled:   p.DedupEnabled,
		DedupThreshold: p.DedupThreshold,
	}, logger)

	router := routing.NewRouter(provider, finops.DefaultPriceTable(), routing.Config{
		ModelFast:     p.ModelFast,
		ModelBalanced: p.ModelBalanced,
		ModelDeep:     p.ModelDeep,
		FastMaxTokens: p.FastMaxTokens,
		DeepMaxTokens: p.DeepMaxTokens,
		RatePerSecond: p.GenRatePerSecond,
		RateBurst:     p.GenRateBurst,
		Timeout:       p.GenTimeout,
	}, logger)

	return consulting.NewEngine(retriever, router, consulting.Options{
		DefaultK:    p.FusionK,
		MaxInFlight: p.MaxInFlight,
		Recorder:    finops.NewMonitor(logger),
		Logger:      logger,
	}), nil
}

func openSources(p *profile.Profile) (vector.Source, vector.Source, error) {
	switch p.VectorDriver {
	case "postgres":
		global, err := vector.OpenPostgres(p.GlobalDSN, vector.SourceGlobal)
		if err != nil {
			return nil, nil, err
		}
		tenant, err := vector.OpenPostgres(p.TenantDSN, vector.SourceTenant)
		if err != nil {
			return nil, nil, err
		}
		return global, tenant, nil
	case "sqlite":
		global, err := vector.OpenSQLite(p.GlobalDSN, vector.SourceGlobal)
		if err != nil {
			return nil, nil, err
		}
		tenant, err := vector.OpenSQLite(p.TenantDSN, vector.SourceTenant)
		if err != nil {
			return nil, nil, err
		}
		return global, tenant, nil
	default:
		return nil, nil, fmt.Errorf("unsupported vector driver: %s", p.VectorDriver)
	}
}
