package config

import (
	"os"
	"strconv"
)

type Config struct {
	Match     MatchConfig
	Voting    VotingConfig
	LiveScan  LiveScanConfig
	Detector  DetectorConfig
	Curation  CurationConfig
	Extractor ExtractorConfig
	Database  DatabaseConfig
	CaseDB    CaseDBConfig
}

// MatchConfig controls the candidate matcher.
type MatchConfig struct {
	StorePath     string  // path to the serialized template store
	Threshold     float64 // maximum aggregated cosine distance to accept a match (default 0.62)
	TopK          int     // number of best per-label distances averaged (default 3)
	MinConfidence float64 // per-frame candidate confidence floor in percent (default 70)
}

// VotingConfig controls the temporal voting aggregator.
type VotingConfig struct {
	Window  int // sliding window size in frames (default 7)
	MinHits int // minimum frames a label must appear in (default 4)
}

// LiveScanConfig controls the live scan state machine and capture loop.
type LiveScanConfig struct {
	CooldownSeconds int     // per-label alert cooldown (default 6)
	MotionFloor     float64 // minimum frame-to-frame motion score (default 1.8)
	MaxReadFailures int     // consecutive capture read failures before the loop stops (default 8)
	CaptureURL      string  // MJPEG camera stream URL, empty disables the capture loop
	InvestigatorID  string  // investigator attributed to camera-driven records, empty for none
}

// DetectorConfig controls face detector backend selection and box filtering.
type DetectorConfig struct {
	ModelPath       string  // path to the landmark cascade model file
	ConfidenceFloor float64 // minimum detection confidence for the learned detector (default 0.35)
	MinBoxSize      int     // minimum box edge length in pixels (default 40)
}

// CurationConfig controls offline template curation.
type CurationConfig struct {
	DatasetPath    string  // root directory with one subdirectory per identity label
	QualityFloor   float64 // minimum quality score for a training image (default 0.45)
	DiversityFloor float64 // minimum cosine distance between selected templates (default 0.08)
	MaxTemplates   int     // maximum templates kept per identity (default 5)
	UploadMinHits  int     // whole-file voting floor for uploaded media (default 3)
}

// ExtractorConfig points at the embedding service.
type ExtractorConfig struct {
	URL string // defaults to http://localhost:8000
	Dim int    // defaults to 512
}

// DatabaseConfig configures the PostgreSQL record store.
type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

// CaseDBConfig configures read-only access to the case management MariaDB.
type CaseDBConfig struct {
	DSN string // e.g. cases:cases@tcp(mariadb:3306)/cases
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a non-negative float.
// Returns the default value if the env var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	return &Config{
		Match: MatchConfig{
			StorePath:     envString("TEMPLATE_STORE_PATH", "templates.json"),
			Threshold:     envFloat("MATCH_THRESHOLD", 0.62),
			TopK:          envInt("MATCH_TOP_K", 3),
			MinConfidence: envFloat("MATCH_MIN_CONFIDENCE", 70),
		},
		Voting: VotingConfig{
			Window:  envInt("VOTING_WINDOW", 7),
			MinHits: envInt("VOTING_MIN_HITS", 4),
		},
		LiveScan: LiveScanConfig{
			CooldownSeconds: envInt("ALERT_COOLDOWN_SECONDS", 6),
			MotionFloor:     envFloat("LIVE_MOTION_FLOOR", 1.8),
			MaxReadFailures: envInt("CAPTURE_MAX_READ_FAILURES", 8),
			CaptureURL:      os.Getenv("CAPTURE_URL"),
			InvestigatorID:  os.Getenv("ACTIVE_INVESTIGATOR_ID"),
		},
		Detector: DetectorConfig{
			ModelPath:       os.Getenv("FACE_CASCADE_PATH"),
			ConfidenceFloor: envFloat("DETECTOR_CONFIDENCE_FLOOR", 0.35),
			MinBoxSize:      envInt("DETECTOR_MIN_BOX_SIZE", 40),
		},
		Curation: CurationConfig{
			DatasetPath:    envString("DATASET_PATH", "dataset"),
			QualityFloor:   envFloat("CURATION_QUALITY_FLOOR", 0.45),
			DiversityFloor: envFloat("CURATION_DIVERSITY_FLOOR", 0.08),
			MaxTemplates:   envInt("CURATION_MAX_TEMPLATES", 5),
			UploadMinHits:  envInt("UPLOAD_VOTING_MIN_HITS", 3),
		},
		Extractor: ExtractorConfig{
			URL: os.Getenv("EMBEDDING_URL"),
			Dim: envInt("EMBEDDING_DIM", 512),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		CaseDB: CaseDBConfig{
			DSN: os.Getenv("CASE_DATABASE_DSN"),
		},
	}
}
