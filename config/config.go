package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Postgres    PostgresConfig
	Supabase    SupabaseConfig
	Proxy       ProxyConfig
	S3          S3Config
	Scheduler   SchedulerConfig
	Scraper     ScraperConfig
	Dedup       DedupConfig
	DBPath      string
	SnapshotDir string
	LogLevel    string
	SourcesDir  string
	RulesPath   string
	Sources     map[string]*SourceConfig
	Rules       *RulesConfig
}

type PostgresConfig struct {
	URL string
}

// SupabaseConfig enables the PostgREST listing mirror when URL is set.
type SupabaseConfig struct {
	URL        string
	ServiceKey string
	Table      string
}

type ProxyConfig struct {
	URL string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

// Enabled reports whether snapshot uploads should go to a real bucket.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

type SchedulerConfig struct {
	Interval       time.Duration
	Cron           string
	ExportInterval time.Duration
}

type ScraperConfig struct {
	DelayMS     int
	Concurrency int
	TopN        int
	Retries     int
}

type DedupConfig struct {
	Policy  string // first_wins, last_wins
	Persist bool
}

// SourceConfig describes one marketplace feed and how to read its records.
type SourceConfig struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Handler     string            `yaml:"handler"` // file, api, html
	RateLimitMS int               `yaml:"rate_limit_ms"`
	ItemsPath   string            `yaml:"items_path"`
	PriceUnit   string            `yaml:"price_unit"` // minor, major
	Currency    string            `yaml:"currency"`
	PageParam   string            `yaml:"page_param"`
	PageSize    int               `yaml:"page_size"`
	MaxPages    int               `yaml:"max_pages"`
	Headers     map[string]string `yaml:"headers"`
	Fields      FieldConfig       `yaml:"fields"`
	Selectors   SelectorConfig    `yaml:"selectors"`
	Targets     map[string]Target `yaml:"targets"`
}

type Target struct {
	URL   string            `yaml:"url"`
	Path  string            `yaml:"path"` // glob for file handlers
	Query map[string]string `yaml:"query"`
}

// FieldConfig lists candidate dotted paths per canonical field; first non-empty wins.
type FieldConfig struct {
	ID        []string `yaml:"id"`
	Title     []string `yaml:"title"`
	URL       []string `yaml:"url"`
	Price     []string `yaml:"price"`
	Currency  []string `yaml:"currency"`
	Status    []string `yaml:"status"`
	SoldPrice []string `yaml:"sold_price"`
	SoldAt    []string `yaml:"sold_at"`
}

type SelectorConfig struct {
	Item   string            `yaml:"item"`
	Fields map[string]string `yaml:"fields"`
}

// RulesConfig is the ordered title-extraction rule table. Order is precedence.
type RulesConfig struct {
	Languages       []string      `yaml:"languages"`
	DefaultLanguage string        `yaml:"default_language"`
	Editions        []PatternRule `yaml:"editions"`
	FoilKeywords    []string      `yaml:"foil_keywords"`
	NoiseWords      []string      `yaml:"noise_words"`
	Graders         []string      `yaml:"graders"`
	Sets            []PatternRule `yaml:"sets"`
}

type PatternRule struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Postgres: PostgresConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Supabase: SupabaseConfig{
			URL:        os.Getenv("SUPABASE_URL"),
			ServiceKey: os.Getenv("SUPABASE_SERVICE_KEY"),
			Table:      getEnv("SUPABASE_TABLE", "listings"),
		},
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			Prefix:          getEnv("S3_PREFIX", "snapshots"),
		},
		Scheduler: SchedulerConfig{
			Cron:           os.Getenv("SCRAPE_CRON"),
			ExportInterval: getEnvDuration("EXPORT_INTERVAL", time.Hour),
		},
		Scraper: ScraperConfig{
			DelayMS:     getEnvInt("SCRAPE_DELAY_MS", 500),
			Concurrency: getEnvInt("SCRAPE_CONCURRENCY", 4),
			TopN:        getEnvInt("TOP_N", 5),
			Retries:     getEnvInt("SCRAPE_RETRIES", 3),
		},
		Dedup: DedupConfig{
			Policy:  getEnv("DEDUP_POLICY", "first_wins"),
			Persist: os.Getenv("DEDUP_PERSIST") == "true",
		},
		DBPath:      getEnv("DB_PATH", "scraper.db"),
		SnapshotDir: getEnv("SNAPSHOT_DIR", "snapshots"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		SourcesDir:  getEnv("SOURCES_DIR", "config/sources"),
		RulesPath:   getEnv("RULES_PATH", "config/rules.yaml"),
		Sources:     make(map[string]*SourceConfig),
	}

	cfg.Scheduler.Interval = getEnvDuration("SCRAPE_INTERVAL", 0)

	if err := cfg.loadSourceConfigs(); err != nil {
		return nil, err
	}
	if err := cfg.loadRules(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadSourceConfigs() error {
	entries, err := os.ReadDir(c.SourcesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		path := filepath.Join(c.SourcesDir, entry.Name())
		src, err := LoadSourceConfig(path)
		if err != nil {
			return err
		}
		c.Sources[src.ID] = src
	}

	return nil
}

// LoadSourceConfig reads a single source YAML file.
func LoadSourceConfig(path string) (*SourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var src SourceConfig
	if err := yaml.Unmarshal(data, &src); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if src.ID == "" {
		return nil, fmt.Errorf("parse %s: missing id", path)
	}
	if src.Handler == "" {
		src.Handler = "file"
	}
	if src.PriceUnit == "" {
		src.PriceUnit = "minor"
	}
	return &src, nil
}

func (c *Config) loadRules() error {
	rules, err := LoadRules(c.RulesPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	c.Rules = rules
	return nil
}

// LoadRules reads the title-extraction rule table.
func LoadRules(path string) (*RulesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var rules RulesConfig
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &rules, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
