package main

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"clippy/quota"
)

// PlatformConfig holds one platform's publishing constraints
type PlatformConfig struct {
	Enabled        bool
	MaxPerDay      int
	PostingWindows []quota.Window
	MinInterval    time.Duration
	MaxConcurrent  int
}

// Config collects everything the scheduler reads from the environment
type Config struct {
	Port         string
	CronSchedule string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	RedisAddr string

	S3Bucket        string
	S3Region        string
	S3PublicBaseURL string

	SourceDir string
	ClipDir   string

	MinScore        float64
	MaxVideosPerDay int
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration

	Platforms map[string]PlatformConfig

	YouTubeServiceAccountFile string
	TikTokAccessToken         string
	InstagramAccessToken      string
	InstagramAccountID        string
}

// LoadConfig reads configuration from the environment with sensible defaults
func LoadConfig() Config {
	cfg := Config{
		Port:         envStr("PORT", "8080"),
		CronSchedule: envStr("CRON_SCHEDULE", "*/15 * * * *"),

		KafkaTopic:   envStr("KAFKA_TOPIC", "clip-candidates"),
		KafkaGroupID: envStr("KAFKA_GROUP_ID", "clippy-scheduler"),

		RedisAddr: os.Getenv("REDIS_ADDR"),

		S3Bucket:        os.Getenv("S3_BUCKET"),
		S3Region:        os.Getenv("S3_REGION"),
		S3PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),

		SourceDir: envStr("SOURCE_DIR", "downloads"),
		ClipDir:   envStr("CLIP_DIR", "clips"),

		MinScore:        envFloat("MIN_SCORE", 0.6),
		MaxVideosPerDay: envInt("MAX_VIDEOS_PER_DAY", 5),
		MaxAttempts:     envInt("MAX_ATTEMPTS", 5),
		BaseDelay:       envSeconds("BASE_DELAY_SECONDS", 2*time.Second),
		MaxDelay:        envSeconds("MAX_DELAY_SECONDS", 5*time.Minute),

		YouTubeServiceAccountFile: os.Getenv("YOUTUBE_SERVICE_ACCOUNT_FILE"),
		TikTokAccessToken:         os.Getenv("TIKTOK_ACCESS_TOKEN"),
		InstagramAccessToken:      os.Getenv("INSTAGRAM_ACCESS_TOKEN"),
		InstagramAccountID:        os.Getenv("INSTAGRAM_ACCOUNT_ID"),
	}

	if brokers := os.Getenv("KAFKA_BOOTSTRAP_SERVERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	cfg.Platforms = make(map[string]PlatformConfig)
	for _, name := range []string{"youtube", "tiktok", "instagram"} {
		cfg.Platforms[name] = loadPlatformConfig(name)
	}
	return cfg
}

// loadPlatformConfig reads one platform's constraints, e.g.
// YOUTUBE_ENABLED, YOUTUBE_MAX_PER_DAY, YOUTUBE_POSTING_WINDOWS,
// YOUTUBE_MIN_INTERVAL_HOURS, YOUTUBE_MAX_CONCURRENT.
func loadPlatformConfig(name string) PlatformConfig {
	prefix := strings.ToUpper(name) + "_"

	pc := PlatformConfig{
		Enabled:       envBool(prefix+"ENABLED", false),
		MaxPerDay:     envInt(prefix+"MAX_PER_DAY", 3),
		MaxConcurrent: envInt(prefix+"MAX_CONCURRENT", 1),
	}

	if hours := envFloat(prefix+"MIN_INTERVAL_HOURS", 2); hours > 0 {
		pc.MinInterval = time.Duration(hours * float64(time.Hour))
	}

	if spec := os.Getenv(prefix + "POSTING_WINDOWS"); spec != "" {
		windows, err := quota.ParseWindows(spec)
		if err != nil {
			log.Printf("⚠️ Ignoring bad %sPOSTING_WINDOWS: %v", prefix, err)
		} else {
			pc.PostingWindows = windows
		}
	}
	return pc
}

// QuotaStates builds the per-platform quota states for enabled platforms
func (c Config) QuotaStates() map[string]quota.State {
	out := make(map[string]quota.State)
	for name, pc := range c.Platforms {
		if !pc.Enabled {
			continue
		}
		out[name] = quota.State{
			Platform:     name,
			MaxPerWindow: pc.MaxPerDay,
			Preferred:    pc.PostingWindows,
			MinInterval:  pc.MinInterval,
		}
	}
	return out
}

// ConcurrencyLimits builds the executor's per-platform concurrency map
func (c Config) ConcurrencyLimits() map[string]int {
	out := make(map[string]int)
	for name, pc := range c.Platforms {
		if pc.Enabled {
			out[name] = pc.MaxConcurrent
		}
	}
	return out
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envSeconds(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}
