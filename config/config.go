package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// AppConfig holds environment driven configuration values.
// Sensitive data should never have defaults inside code and must be provided via env files or the environment.
type AppConfig struct {
	AppPort            string
	JWTSecret          string
	RateLimitPerMinute int
	AllowedOrigins     []string
	OAuthRedirectBase  string
	GoogleClientID     string
	GoogleClientSecret string
	// Gin framework configuration
	GinMode string
	GinPath string
	// Database
	DatabaseURI string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	// Redis for caching, recognition results and report dedup
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	// AWS object storage and classifier functions
	AWSRegion               string
	AWSBucket               string
	FaceRecognitionFunction string
	BlurDetectionFunction   string
	DuplicateDetectFunction string
	UploadURLExpirySeconds  int
	// Firebase push delivery
	FirebaseCredentialsFile string
	// Classification pipeline tuning
	BatchWorkers            int
	BatchMaxAttempts        int
	BatchBackoffBaseMS      int
	RecognitionMaxAttempts  int
	ReportMaxAttempts       int
	FaceReportDelaySec      int
	BlurReportDelaySec      int
	DuplicateReportDelaySec int
	MatchTTLHours           int
	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
}

var cfg AppConfig
var loaded bool

// Load loads the application configuration. It should be called once during boot.
func Load() AppConfig {
	if loaded {
		return cfg
	}

	// Precedence: config/config.json -> defaults -> environment variable overrides
	_ = loadJSONConfig(filepath.Join("config", "config.json"), &cfg)
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set in environment variables")
	}

	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	if !loaded {
		return Load()
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// loadJSONConfig reads JSON file into cfg if present. Returns error only for invalid JSON.
func loadJSONConfig(path string, out *AppConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return nil // silently ignore missing file
	}
	defer f.Close()

	var raw map[string]any
	dec := json.NewDecoder(f)
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	getString := func(m map[string]any, key string) string {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}
	getInt := func(m map[string]any, key string) int {
		if v, ok := m[key]; ok {
			switch t := v.(type) {
			case float64:
				return int(t)
			case int:
				return t
			case json.Number:
				i, _ := t.Int64()
				return int(i)
			}
		}
		return 0
	}
	getBool := func(m map[string]any, key string) bool {
		if v, ok := m[key]; ok {
			if b, ok := v.(bool); ok {
				return b
			}
		}
		return false
	}
	getStringSlice := func(m map[string]any, key string) []string {
		if v, ok := m[key]; ok {
			if arr, ok := v.([]any); ok {
				res := make([]string, 0, len(arr))
				for _, it := range arr {
					if s, ok := it.(string); ok {
						res = append(res, s)
					}
				}
				return res
			}
		}
		return nil
	}

	if app, ok := raw["app"].(map[string]any); ok {
		out.AppPort = getString(app, "AppPort")
		out.JWTSecret = getString(app, "JWTSecret")
		if v := getInt(app, "RateLimitPerMinute"); v != 0 {
			out.RateLimitPerMinute = v
		}
		if list := getStringSlice(app, "AllowedOrigins"); len(list) > 0 {
			out.AllowedOrigins = list
		}
		if v := getString(app, "OAuthRedirectBase"); v != "" {
			out.OAuthRedirectBase = v
		}
	}

	if g, ok := raw["gin"].(map[string]any); ok {
		if v := getString(g, "Mode"); v != "" {
			out.GinMode = v
		}
		if v := getString(g, "LogPath"); v != "" {
			out.GinPath = v
		}
	}

	if dbs, ok := raw["database"].(map[string]any); ok {
		out.DatabaseURI = getString(dbs, "DatabaseURI")
		out.DBHost = getString(dbs, "DBHost")
		out.DBPort = getString(dbs, "DBPort")
		out.DBUser = getString(dbs, "DBUser")
		out.DBPassword = getString(dbs, "DBPassword")
		out.DBName = getString(dbs, "DBName")
	}

	if rds, ok := raw["redis"].(map[string]any); ok {
		out.RedisHost = getString(rds, "RedisHost")
		if v := getInt(rds, "RedisPort"); v != 0 {
			out.RedisPort = v
		}
		if v := getInt(rds, "RedisDB"); v != 0 {
			out.RedisDB = v
		}
		out.RedisPassword = getString(rds, "RedisPassword")
	}

	if oa, ok := raw["oauth"].(map[string]any); ok {
		out.GoogleClientID = getString(oa, "GoogleClientID")
		out.GoogleClientSecret = getString(oa, "GoogleClientSecret")
	}

	if aw, ok := raw["aws"].(map[string]any); ok {
		out.AWSRegion = getString(aw, "Region")
		out.AWSBucket = getString(aw, "Bucket")
		out.FaceRecognitionFunction = getString(aw, "FaceRecognitionFunction")
		out.BlurDetectionFunction = getString(aw, "BlurDetectionFunction")
		out.DuplicateDetectFunction = getString(aw, "DuplicateDetectFunction")
		if v := getInt(aw, "UploadURLExpirySeconds"); v != 0 {
			out.UploadURLExpirySeconds = v
		}
	}

	if fb, ok := raw["firebase"].(map[string]any); ok {
		out.FirebaseCredentialsFile = getString(fb, "CredentialsFile")
	}

	if pl, ok := raw["pipeline"].(map[string]any); ok {
		if v := getInt(pl, "BatchWorkers"); v != 0 {
			out.BatchWorkers = v
		}
		if v := getInt(pl, "BatchMaxAttempts"); v != 0 {
			out.BatchMaxAttempts = v
		}
		if v := getInt(pl, "BatchBackoffBaseMS"); v != 0 {
			out.BatchBackoffBaseMS = v
		}
		if v := getInt(pl, "RecognitionMaxAttempts"); v != 0 {
			out.RecognitionMaxAttempts = v
		}
		if v := getInt(pl, "ReportMaxAttempts"); v != 0 {
			out.ReportMaxAttempts = v
		}
		if v := getInt(pl, "FaceReportDelaySec"); v != 0 {
			out.FaceReportDelaySec = v
		}
		if v := getInt(pl, "BlurReportDelaySec"); v != 0 {
			out.BlurReportDelaySec = v
		}
		if v := getInt(pl, "DuplicateReportDelaySec"); v != 0 {
			out.DuplicateReportDelaySec = v
		}
		if v := getInt(pl, "MatchTTLHours"); v != 0 {
			out.MatchTTLHours = v
		}
	}

	if lg, ok := raw["log"].(map[string]any); ok {
		if v := getString(lg, "Level"); v != "" {
			out.LogLevel = v
		}
		if v := getString(lg, "Path"); v != "" {
			out.LogPath = v
		}
		if v := getString(lg, "GinPath"); v != "" {
			out.GinPath = v
		}
		if v := getInt(lg, "MaxSizeMB"); v != 0 {
			out.LogMaxSizeMB = v
		}
		if v := getInt(lg, "MaxBackups"); v != 0 {
			out.LogMaxBackups = v
		}
		if v := getInt(lg, "MaxAgeDays"); v != 0 {
			out.LogMaxAgeDays = v
		}
		out.LogCompress = getBool(lg, "Compress")
	}

	return nil
}

// applyDefaults sets sane defaults for zero-value fields.
func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "8080"
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/go_gin.log"
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.OAuthRedirectBase == "" {
		c.OAuthRedirectBase = "http://localhost:8080"
	}
	if c.DBHost == "" {
		c.DBHost = "127.0.0.1"
	}
	if c.DBPort == "" {
		c.DBPort = "3306"
	}
	if c.DBUser == "" {
		c.DBUser = "root"
	}
	if c.DBName == "" {
		c.DBName = "picshare"
	}
	if c.RedisHost == "" {
		c.RedisHost = "127.0.0.1"
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.AWSRegion == "" {
		c.AWSRegion = "us-east-1"
	}
	if c.UploadURLExpirySeconds == 0 {
		c.UploadURLExpirySeconds = 300
	}
	if c.BatchWorkers == 0 {
		c.BatchWorkers = 5
	}
	if c.BatchMaxAttempts == 0 {
		c.BatchMaxAttempts = 3
	}
	if c.BatchBackoffBaseMS == 0 {
		c.BatchBackoffBaseMS = 5000
	}
	if c.RecognitionMaxAttempts == 0 {
		c.RecognitionMaxAttempts = 2
	}
	if c.ReportMaxAttempts == 0 {
		c.ReportMaxAttempts = 3
	}
	if c.FaceReportDelaySec == 0 {
		c.FaceReportDelaySec = 60
	}
	if c.BlurReportDelaySec == 0 {
		c.BlurReportDelaySec = 300
	}
	if c.DuplicateReportDelaySec == 0 {
		c.DuplicateReportDelaySec = 300
	}
	if c.MatchTTLHours == 0 {
		c.MatchTTLHours = 24
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 100
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = 3
	}
	if c.LogMaxAgeDays == 0 {
		c.LogMaxAgeDays = 7
	}
}

// applyEnvOverrides maps known environment variables onto config values when present.
func applyEnvOverrides(c *AppConfig) {
	if v := getEnv("APP_PORT", ""); v != "" {
		c.AppPort = v
	}
	if v := getEnv("JWT_SECRET", ""); v != "" {
		c.JWTSecret = v
	}
	if v := getEnv("GIN_MODE", ""); v != "" {
		c.GinMode = v
	}
	if v := getEnv("GIN_PATH", ""); v != "" {
		c.GinPath = v
	}
	if v := getEnv("DATABASE_URI", ""); v != "" {
		c.DatabaseURI = v
	}
	if v := getEnv("DB_HOST", ""); v != "" {
		c.DBHost = v
	}
	if v := getEnv("DB_PORT", ""); v != "" {
		c.DBPort = v
	}
	if v := getEnv("DB_USER", ""); v != "" {
		c.DBUser = v
	}
	if v := getEnv("DB_PASSWORD", ""); v != "" {
		c.DBPassword = v
	}
	if v := getEnv("DB_NAME", ""); v != "" {
		c.DBName = v
	}
	if v := getEnv("REDIS_HOST", ""); v != "" {
		c.RedisHost = v
	}
	if v := getEnv("REDIS_PORT", ""); v != "" {
		c.RedisPort = mustParseInt(v)
	}
	if v := getEnv("REDIS_DB", ""); v != "" {
		c.RedisDB = mustParseInt(v)
	}
	if v := getEnv("REDIS_PASSWORD", ""); v != "" {
		c.RedisPassword = v
	}
	if v := getEnv("GOOGLE_CLIENT_ID", ""); v != "" {
		c.GoogleClientID = v
	}
	if v := getEnv("GOOGLE_CLIENT_SECRET", ""); v != "" {
		c.GoogleClientSecret = v
	}
	if v := getEnv("OAUTH_REDIRECT_BASE_URL", ""); v != "" {
		c.OAuthRedirectBase = v
	}
	if v := getEnv("AWS_REGION", ""); v != "" {
		c.AWSRegion = v
	}
	if v := getEnv("AWS_BUCKET_NAME", ""); v != "" {
		c.AWSBucket = v
	}
	if v := getEnv("FACE_RECOGNITION_LAMBDA", ""); v != "" {
		c.FaceRecognitionFunction = v
	}
	if v := getEnv("BLUR_DETECTION_LAMBDA", ""); v != "" {
		c.BlurDetectionFunction = v
	}
	if v := getEnv("DUPLICATE_DETECTION_LAMBDA", ""); v != "" {
		c.DuplicateDetectFunction = v
	}
	if v := getEnv("FIREBASE_CREDENTIALS_FILE", ""); v != "" {
		c.FirebaseCredentialsFile = v
	}
	if v := getEnv("RATE_LIMIT_PER_MINUTE", ""); v != "" {
		c.RateLimitPerMinute = mustParseInt(v)
	}
	if v := getEnv("CORS_ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitAndTrim(v)
	}
	if v := getEnv("BATCH_WORKERS", ""); v != "" {
		c.BatchWorkers = mustParseInt(v)
	}
	if v := getEnv("BATCH_MAX_ATTEMPTS", ""); v != "" {
		c.BatchMaxAttempts = mustParseInt(v)
	}
	if v := getEnv("BATCH_BACKOFF_BASE_MS", ""); v != "" {
		c.BatchBackoffBaseMS = mustParseInt(v)
	}
	if v := getEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := getEnv("LOG_PATH", ""); v != "" {
		c.LogPath = v
	}
	if v := getEnv("LOG_MAX_SIZE_MB", ""); v != "" {
		c.LogMaxSizeMB = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_BACKUPS", ""); v != "" {
		c.LogMaxBackups = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_AGE_DAYS", ""); v != "" {
		c.LogMaxAgeDays = mustParseInt(v)
	}
	if v := getEnv("LOG_COMPRESS", ""); v != "" {
		c.LogCompress = v == "true"
	}
}

func mustParseInt(val string) int {
	i, err := strconv.Atoi(val)
	if err != nil {
		log.Fatalf("invalid integer value %s: %v", val, err)
	}
	return i
}

func splitAndTrim(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
