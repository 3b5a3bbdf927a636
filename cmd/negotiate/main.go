// Package main is the entry point for the negotiation engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/anthropics/negotiation-engine/internal/config"
	"github.com/anthropics/negotiation-engine/internal/decision"
	"github.com/anthropics/negotiation-engine/internal/domain"
	"github.com/anthropics/negotiation-engine/internal/engine"
	"github.com/anthropics/negotiation-engine/internal/guard"
	"github.com/anthropics/negotiation-engine/internal/httpapi"
	"github.com/anthropics/negotiation-engine/internal/rules"
	"github.com/anthropics/negotiation-engine/internal/store"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to configuration JSON file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("negotiate %s (commit=%s, built=%s)\n", version, commit, date)
		os.Exit(0)
	}

	// Resolve config path: --config flag > NEGOTIATE_CONFIG env > auto-discover.
	path := *configPath
	if path == "" {
		path = os.Getenv("NEGOTIATE_CONFIG")
	}
	if path == "" {
		path = discoverConfig()
	}
	if path == "" {
		fatal("no config found. Place config.json next to the exe, use --config <path>, or set NEGOTIATE_CONFIG.")
	}

	cfg, err := config.Load(path)
	if err != nil {
		fatal(fmt.Sprintf("load config: %v", err))
	}

	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	eng := engine.New(db, engine.Config{
		MaxRounds:       cfg.MaxRounds,
		SessionTTL:      time.Duration(cfg.SessionTTLMin) * time.Minute,
		DefaultSegment:  domain.Segment(cfg.DefaultSegment),
		DefaultLanguage: cfg.DefaultLanguage,
	})

	// Rule provider: local SQLite by default, shared MySQL when configured.
	switch cfg.RulesBackend {
	case "mysql":
		provider, err := rules.NewMySQLProvider(cfg.MySQLDSN)
		if err != nil {
			log.Fatalf("open mysql rules: %v", err)
		}
		defer provider.Close()
		eng.Rules = provider
	default:
		eng.Rules = &rules.SQLiteProvider{DB: db}
	}
	eng.Catalog = &rules.SQLiteCatalog{DB: db}
	eng.Features = rules.AllowAllFlags{}
	eng.History = rules.StaticHistory{Segment: domain.Segment(cfg.DefaultSegment)}

	// Guard stores: in-memory per process, Redis when an address is configured.
	sessionTTL := time.Duration(cfg.SessionTTLMin) * time.Minute
	rateWindow := time.Duration(cfg.RateWindowMin) * time.Minute
	if cfg.RedisAddr != "" {
		rateStore := guard.NewRedisRateStore(cfg.RedisAddr, "", cfg.RedisDB)
		eng.Limiter = &guard.RateLimiter{Store: rateStore, Limit: cfg.RateLimit, Window: rateWindow}
		eng.Replay = &guard.ReplayGuard{Store: guard.NewRedisReplayStoreFromClient(rateStore.Client()), TTL: sessionTTL}
	} else {
		eng.Limiter = &guard.RateLimiter{Store: guard.NewMemoryRateStore(), Limit: cfg.RateLimit, Window: rateWindow}
		eng.Replay = &guard.ReplayGuard{Store: guard.NewMemoryReplayStore(), TTL: sessionTTL}
	}
	eng.Fraud = guard.NewFraudHeuristics(guard.NewMemoryActivityStore(), guard.FraudConfig{
		LowballRatio:      cfg.Fraud.LowballRatio,
		AttemptsPerDay:    cfg.Fraud.AttemptsPerDay,
		UsersPerIPPerHour: cfg.Fraud.UsersPerIPPerHour,
	})

	// Reasoning backend is optional: without an API key the deterministic
	// negotiator handles every round.
	if cfg.GeminiAPIKey != "" {
		backend, err := decision.NewReasoningBackend(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel,
			time.Duration(cfg.ReasoningTimeoutSec)*time.Second)
		if err != nil {
			log.Printf("reasoning backend unavailable, using deterministic negotiator: %v", err)
		} else {
			eng.Primary = backend
		}
	}

	handler := &httpapi.Handler{Engine: eng, TrustProxy: cfg.TrustProxy}
	srv := httpapi.NewServer(handler, cfg.ListenAddr)

	// Graceful shutdown on interrupt.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("server shutdown: %v", err)
		}
	}()

	log.Printf("negotiation engine listening on %s", cfg.ListenAddr)

	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
		fatal(fmt.Sprintf("server error: %v", err))
	}
}

// discoverConfig looks for config.json next to the executable, then in the cwd.
func discoverConfig() string {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "config.json")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	if _, err := os.Stat("config.json"); err == nil {
		return "config.json"
	}
	return ""
}

func fatal(msg string) {
	fmt.Fprintf(os.Stderr, "ERROR: %s\n", msg)
	os.Exit(1)
}
