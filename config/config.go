package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	// DATABASE_URL hat Vorrang vor den einzelnen DB_* Variablen.
	DatabaseURL string `envconfig:"DATABASE_URL"`
	DBHost      string `envconfig:"DB_HOST" default:"localhost"`
	DBPort      int    `envconfig:"DB_PORT" default:"5432"`
	DBUser      string `envconfig:"DB_USER" default:"postgres"`
	DBPassword  string `envconfig:"DB_PASSWORD"`
	DBName      string `envconfig:"DB_NAME" default:"papers"`
	DebugSQL    bool   `envconfig:"DEBUG_SQL" default:"false"`

	HTTPPort       string   `envconfig:"HTTP_PORT" default:"4242"`
	APISecretKey   string   `envconfig:"API_SECRET_KEY"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`

	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"0 6 * * *"`

	// Eingangskanal für Scholar-Alerts
	AlertDir        string `envconfig:"ALERT_DIR" default:"./alerts"`
	AlertSender     string `envconfig:"ALERT_SENDER" default:"scholaralerts-noreply@google.com"`
	AlertSourceName string `envconfig:"ALERT_SOURCE_NAME" default:"scholar"`
	LookbackDays    int    `envconfig:"LOOKBACK_DAYS" default:"1"`
	MaxMessages     int    `envconfig:"MAX_MESSAGES" default:"100"`

	OpenAIAPIKey        string        `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL       string        `envconfig:"OPENAI_BASE_URL"`
	EmbeddingModel      string        `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingDim        int           `envconfig:"EMBEDDING_DIM" default:"512"`
	EmbeddingTimeout    time.Duration `envconfig:"EMBEDDING_TIMEOUT" default:"30s"`
	EmbeddingMaxRetries int           `envconfig:"EMBEDDING_MAX_RETRIES" default:"2"`
	EmbeddingBatchSize  int           `envconfig:"EMBEDDING_BATCH_SIZE" default:"100"`

	RedisURL      string        `envconfig:"REDIS_URL"`
	QueryCacheTTL time.Duration `envconfig:"QUERY_CACHE_TTL" default:"168h"`

	SemanticThreshold float64 `envconfig:"SEMANTIC_THRESHOLD" default:"0.2"`
	SemanticTopK      int     `envconfig:"SEMANTIC_TOP_K" default:"1000"`
	PageSize          int     `envconfig:"PAGE_SIZE" default:"10"`

	EnrichTimeout     time.Duration `envconfig:"ENRICH_TIMEOUT" default:"10s"`
	ArxivEnabled      bool          `envconfig:"ARXIV_ENABLED" default:"true"`
	ArxivBaseURL      string        `envconfig:"ARXIV_BASE_URL" default:"https://arxiv.org"`
	ArxivRequestDelay time.Duration `envconfig:"ARXIV_REQUEST_DELAY" default:"500ms"`
	ACMEnabled        bool          `envconfig:"ACM_ENABLED" default:"false"`
	ACMBaseURL        string        `envconfig:"ACM_BASE_URL" default:"https://dl.acm.org"`
	// Unpaywall-API für Journal und Jahr über die DOI
	UnpaywallBaseURL string `envconfig:"UNPAYWALL_BASE_URL" default:"https://api.unpaywall.org/v2"`
	UnpaywallEmail   string `envconfig:"UNPAYWALL_EMAIL"`
	// Titelsuche in Europe PMC als letzter Fallback
	EuropePMCEnabled bool   `envconfig:"EUROPEPMC_ENABLED" default:"false"`
	EuropePMCBaseURL string `envconfig:"EUROPEPMC_BASE_URL" default:"https://www.ebi.ac.uk/europepmc/webservices/rest/search"`

	SummaryProvider string        `envconfig:"SUMMARY_PROVIDER" default:"openai"`
	SummaryAPIKey   string        `envconfig:"SUMMARY_API_KEY"`
	SummaryModel    string        `envconfig:"SUMMARY_MODEL"`
	SummaryEndpoint string        `envconfig:"SUMMARY_ENDPOINT"`
	SummaryTimeout  time.Duration `envconfig:"SUMMARY_TIMEOUT" default:"120s"`

	S3Key            string `envconfig:"S3_KEY"`
	S3Secret         string `envconfig:"S3_SECRET"`
	S3URL            string `envconfig:"S3_URL"`
	S3Region         string `envconfig:"S3_REGION" default:"eu-central-1"`
	S3Bucket         string `envconfig:"S3_BUCKET"`
	ArchiveRawAlerts bool   `envconfig:"ARCHIVE_RAW_ALERTS" default:"false"`
	ExportKeep       int    `envconfig:"EXPORT_KEEP" default:"4"`

	TopicsFile string `envconfig:"TOPICS_FILE"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// S3Enabled meldet, ob ein Bucket für Archiv und Export konfiguriert ist.
func (c *Config) S3Enabled() bool {
	return strings.TrimSpace(c.S3Bucket) != ""
}

// SummaryKey fällt auf den OpenAI-Key zurück, wenn kein eigener gesetzt ist.
func (c *Config) SummaryKey() string {
	if c.SummaryAPIKey != "" {
		return c.SummaryAPIKey
	}
	if strings.EqualFold(c.SummaryProvider, "openai") {
		return c.OpenAIAPIKey
	}
	return ""
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
