package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/yoockh/anamnesi/internal/models"
)

// ErrNotConfigured is returned by the Init functions when the store's
// connection string is unset. Every store is optional.
var ErrNotConfigured = errors.New("not configured")

type Settings struct {
	Port     string
	GinMode  string
	LogLevel string

	// capture and session
	ChunkInterval    time.Duration
	SampleRate       int
	SettleTimeout    time.Duration
	CallTimeout      time.Duration
	AnalysisMode     models.AnalysisMode
	ScreeningSection string
	Language         string

	// Google Cloud
	GCPProject      string
	GCPLocation     string
	GeminiModel     string
	STTProvider     string // google|gemini
	CredentialsFile string
	GCSBucket       string

	// auth
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	AllowedOrigins []string

	// stores
	MongoDB        string
	ChunkTTL       time.Duration
	FlowCacheTTL   time.Duration
	ArchiveStream  string
	ArchiveWorkers int
}

// Load reads .env when present, then the environment.
func Load() (*Settings, error) {
	_ = godotenv.Load()

	s := &Settings{
		Port:     getenv("PORT", "8080"),
		GinMode:  getenv("GIN_MODE", "release"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		AnalysisMode:     models.AnalysisMode(strings.ToLower(getenv("ANALYSIS_MODE", string(models.ModeBatch)))),
		ScreeningSection: getenv("SCREENING_SECTION", "Generale"),
		Language:         getenv("STT_LANGUAGE", "it-IT"),

		GCPProject:      os.Getenv("GCP_PROJECT_ID"),
		GCPLocation:     getenv("GCP_LOCATION", "us-central1"),
		GeminiModel:     getenv("GEMINI_MODEL", "gemini-2.0-flash"),
		STTProvider:     strings.ToLower(getenv("STT_PROVIDER", "google")),
		CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		GCSBucket:       os.Getenv("GCS_BUCKET"),

		JWTSecret:   os.Getenv("JWT_SECRET"),
		JWTIssuer:   os.Getenv("JWT_ISSUER"),
		JWTAudience: os.Getenv("JWT_AUDIENCE"),

		AllowedOrigins: splitList(os.Getenv("WS_ALLOWED_ORIGINS")),

		MongoDB:       getenv("MONGO_DB", "anamnesi"),
		ArchiveStream: getenv("ARCHIVE_STREAM", "interview:archive"),
	}

	var errs []error
	s.ChunkInterval = getDuration("CHUNK_INTERVAL", 3*time.Second, &errs)
	s.SettleTimeout = getDuration("SETTLE_TIMEOUT", 10*time.Second, &errs)
	s.CallTimeout = getDuration("CALL_TIMEOUT", 60*time.Second, &errs)
	s.ChunkTTL = getDuration("CHUNK_LEDGER_TTL", 24*time.Hour, &errs)
	s.FlowCacheTTL = getDuration("FLOW_CACHE_TTL", time.Hour, &errs)
	s.SampleRate = getInt("SAMPLE_RATE", 16000, &errs)
	s.ArchiveWorkers = getInt("ARCHIVE_WORKERS", 2, &errs)

	if !s.AnalysisMode.Valid() {
		errs = append(errs, fmt.Errorf("ANALYSIS_MODE: unknown mode %q", s.AnalysisMode))
	}
	switch s.STTProvider {
	case "google", "gemini":
	default:
		errs = append(errs, fmt.Errorf("STT_PROVIDER: unknown provider %q", s.STTProvider))
	}
	if s.GCPProject == "" {
		errs = append(errs, errors.New("GCP_PROJECT_ID environment variable is not set"))
	}
	if s.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET environment variable is not set"))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return s, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// getDuration accepts Go durations ("3s") or plain milliseconds ("3000").
func getDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		*errs = append(*errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}

func getInt(key string, def int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		*errs = append(*errs, fmt.Errorf("%s: invalid positive integer %q", key, v))
		return def
	}
	return n
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
