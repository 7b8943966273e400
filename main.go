package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"clippy/api"
	"clippy/executor"
	"clippy/kafka"
	"clippy/ledger"
	"clippy/planner"
	"clippy/platforms"
	"clippy/render"
	"clippy/scoring"
	"clippy/storage"
	"clippy/store"
)

func main() {
	_ = godotenv.Load()

	port := flag.String("port", "", "HTTP API port (overrides PORT env var)")
	cronSchedule := flag.String("cron", "", "cron schedule for publish runs (overrides CRON_SCHEDULE env var)")
	flag.Parse()

	cfg := LoadConfig()
	if *port != "" {
		cfg.Port = *port
	}
	if *cronSchedule != "" {
		cfg.CronSchedule = *cronSchedule
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ledger: Redis when configured, in-process otherwise
	var led ledger.Ledger
	if cfg.RedisAddr != "" {
		rl := ledger.NewRedisFromEnv()
		if err := rl.Ping(ctx); err != nil {
			log.Fatalf("❌ Redis ledger unreachable at %s: %v", cfg.RedisAddr, err)
		}
		defer rl.Close()
		led = rl
		log.Printf("✅ Redis ledger connected (%s)", cfg.RedisAddr)
	} else {
		led = ledger.NewMemory()
		log.Println("⚠️ REDIS_ADDR not set; using in-memory ledger (state lost on restart)")
	}

	var clipStore *storage.Clips
	if cfg.S3Bucket != "" {
		cs, err := storage.New(ctx, storage.Config{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			PublicBaseURL: cfg.S3PublicBaseURL,
		})
		if err != nil {
			log.Fatalf("❌ S3 clip store: %v", err)
		}
		clipStore = cs
		log.Printf("✅ S3 clip store ready (bucket %s)", cfg.S3Bucket)
	}

	registry := buildRegistry(ctx, cfg, clipStore)
	if len(registry.Names()) == 0 {
		log.Println("⚠️ No platforms enabled or successfully initialized")
	} else {
		log.Printf("🚀 Platforms ready: %v", registry.Names())
	}

	// Conservative recovery before anything is planned or dispatched
	report, err := ledger.Recover(ctx, led, registry)
	if err != nil {
		log.Fatalf("❌ Ledger recovery failed: %v", err)
	}
	if report.Requeued > 0 || report.Confirmed > 0 {
		log.Printf("🔁 Recovery: %d requeued, %d confirmed", report.Requeued, report.Confirmed)
	}

	st := store.New()
	renderer := render.New(cfg.ClipDir, func(sourceVideoID string) (string, error) {
		path := filepath.Join(cfg.SourceDir, sourceVideoID+".mp4")
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("source video not downloaded: %w", err)
		}
		return path, nil
	})

	exec := executor.New(led, st, registry, executor.Config{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		Concurrency: cfg.ConcurrencyLimits(),
	})

	tracker := api.NewStatusTracker()

	runOnce := func(runCtx context.Context) (executor.Summary, error) {
		tracker.SetState(api.StatePlanning)
		tracker.AddLog("Planning publish run")

		renderPending(runCtx, st, renderer, clipStore, tracker)

		quotas, err := planner.HydrateQuotas(runCtx, led, cfg.QuotaStates(), time.Now())
		if err != nil {
			return executor.Summary{}, err
		}

		candidates := st.ListPending(cfg.MinScore)
		queue, err := planner.New(led, quotas).BuildQueue(runCtx, candidates, cfg.MaxVideosPerDay)
		if err != nil {
			return executor.Summary{}, err
		}
		tracker.AddLog("Planned %d intents from %d candidates", len(queue), len(candidates))
		if len(queue) == 0 {
			return executor.Summary{}, nil
		}

		tracker.SetState(api.StatePublishing)
		summary, err := exec.Run(runCtx, queue)
		if err != nil {
			return summary, err
		}
		for _, f := range summary.Failures {
			tracker.AddLog("Failed terminally: %s on %s: %s", f.ClipID, f.Platform, f.Reason)
		}
		return summary, nil
	}

	// Candidate ingestion from the scoring pipeline
	if len(cfg.KafkaBrokers) > 0 {
		handler := &kafka.CandidateHandler{Store: st}
		if scorer, err := scoring.NewCohereFromEnv(); err != nil {
			log.Printf("⚠️ Cohere scorer unavailable: %v", err)
		} else if scorer != nil {
			handler.Scorer = scorer
			log.Println("✅ Cohere scorer ready for unscored candidates")
		}

		consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
			Handler: handler,
		})
		if err != nil {
			log.Fatalf("❌ Failed to create Kafka consumer: %v", err)
		}
		if err := consumer.Start(ctx); err != nil {
			log.Fatalf("❌ Failed to start Kafka consumer: %v", err)
		}
		defer consumer.Close()
	} else {
		log.Println("⚠️ KAFKA_BOOTSTRAP_SERVERS not set; candidate ingestion disabled")
	}

	server := api.NewServer(st, tracker, runOnce, cfg.Port)
	if err := server.Start(); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
	if err := server.StartCron(cfg.CronSchedule); err != nil {
		log.Fatalf("❌ Failed to start cron: %v", err)
	}

	log.Println("🎬 Clippy publishing scheduler ready")
	log.Printf("   API:  http://localhost:%s/api/status", cfg.Port)
	log.Printf("   Runs: %s", cfg.CronSchedule)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ Shutdown: %v", err)
	}
}

// renderPending drives the render collaborator for candidates that still
// need their clip produced, then mirrors the artifact to S3 when
// configured. A failed render is terminal for the candidate.
func renderPending(ctx context.Context, st *store.Store, renderer *render.Renderer, clipStore *storage.Clips, tracker *api.StatusTracker) {
	for _, cand := range st.ListUnrendered() {
		if ctx.Err() != nil {
			return
		}
		path, err := renderer.Render(ctx, cand)
		if err != nil {
			log.Printf("❌ Render failed for %s: %v", cand.ID, err)
			if merr := st.MarkRenderFailed(cand.ID, err.Error()); merr != nil {
				log.Printf("⚠️ MarkRenderFailed %s: %v", cand.ID, merr)
			}
			tracker.AddLog("Render failed for %s", cand.ID)
			continue
		}
		if merr := st.MarkRendered(cand.ID, path); merr != nil {
			log.Printf("⚠️ MarkRendered %s: %v", cand.ID, merr)
			continue
		}
		log.Printf("🎞️ Rendered %s -> %s", cand.ID, path)

		if clipStore != nil {
			if err := uploadClip(ctx, clipStore, path); err != nil {
				log.Printf("⚠️ Clip upload for %s: %v", cand.ID, err)
			}
		}
	}
}

func uploadClip(ctx context.Context, clipStore *storage.Clips, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return clipStore.Put(ctx, storage.Key(path), f)
}

// buildRegistry initializes enabled platform posters. A platform that fails
// to initialize is skipped, not fatal.
func buildRegistry(ctx context.Context, cfg Config, clipStore *storage.Clips) *platforms.Registry {
	registry := platforms.NewRegistry()

	if cfg.Platforms["youtube"].Enabled {
		if cfg.YouTubeServiceAccountFile == "" {
			log.Println("❌ youtube enabled but YOUTUBE_SERVICE_ACCOUNT_FILE not set")
		} else if yt, err := platforms.NewYouTube(ctx, platforms.YouTubeConfig{
			ServiceAccountFile: cfg.YouTubeServiceAccountFile,
		}); err != nil {
			log.Printf("❌ Failed to initialize YouTube: %v", err)
		} else {
			registry.Register(yt)
			log.Println("✅ YouTube Shorts platform initialized")
		}
	}

	if cfg.Platforms["tiktok"].Enabled {
		if cfg.TikTokAccessToken == "" {
			log.Println("❌ tiktok enabled but TIKTOK_ACCESS_TOKEN not set")
		} else {
			registry.Register(platforms.NewTikTok(cfg.TikTokAccessToken))
			log.Println("✅ TikTok platform initialized")
		}
	}

	if cfg.Platforms["instagram"].Enabled {
		switch {
		case cfg.InstagramAccessToken == "" || cfg.InstagramAccountID == "":
			log.Println("❌ instagram enabled but INSTAGRAM_ACCESS_TOKEN/INSTAGRAM_ACCOUNT_ID not set")
		case clipStore == nil:
			log.Println("❌ instagram requires the S3 clip store (the Graph API ingests by URL); set S3_BUCKET")
		default:
			clipURL := func(path string) string {
				return clipStore.URL(storage.Key(path))
			}
			registry.Register(platforms.NewInstagram(cfg.InstagramAccessToken, cfg.InstagramAccountID, clipURL))
			log.Println("✅ Instagram Reels platform initialized")
		}
	}

	return registry
}
