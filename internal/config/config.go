package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Overpass  OverpassConfig  `yaml:"overpass" mapstructure:"overpass"`
	Renderer  RendererConfig  `yaml:"renderer" mapstructure:"renderer"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Jina      JinaConfig      `yaml:"jina" mapstructure:"jina"`
	Collect   CollectConfig   `yaml:"collect" mapstructure:"collect"`
	Prevet    PrevetConfig    `yaml:"prevet" mapstructure:"prevet"`
	Crawl     CrawlConfig     `yaml:"crawl" mapstructure:"crawl"`
	Images    ImagesConfig    `yaml:"images" mapstructure:"images"`
	Enrich    EnrichConfig    `yaml:"enrich" mapstructure:"enrich"`
	Filter    FilterConfig    `yaml:"filter" mapstructure:"filter"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// OverpassConfig configures the Overpass API client.
type OverpassConfig struct {
	Endpoints    []string `yaml:"endpoints" mapstructure:"endpoints"`
	TimeoutSecs  int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MinDelaySecs int      `yaml:"min_delay_secs" mapstructure:"min_delay_secs"`
}

// RendererConfig configures the browser-render endpoint.
type RendererConfig struct {
	BaseURL         string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutMS       int     `yaml:"timeout_ms" mapstructure:"timeout_ms"`
	FilterThreshold float64 `yaml:"filter_threshold" mapstructure:"filter_threshold"`
	MinWordCount    int     `yaml:"min_word_count" mapstructure:"min_word_count"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// JinaConfig holds the CLIP ranking API settings.
type JinaConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// CollectConfig configures the tiled Overpass collection stage.
type CollectConfig struct {
	TileSizeDeg float64  `yaml:"tile_size_deg" mapstructure:"tile_size_deg"`
	Selectors   []string `yaml:"selectors" mapstructure:"selectors"`
}

// PrevetConfig configures the keyword pre-vetting stage.
type PrevetConfig struct {
	Concurrency  int    `yaml:"concurrency" mapstructure:"concurrency"`
	TimeoutSecs  int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	KeywordsFile string `yaml:"keywords_file" mapstructure:"keywords_file"`
}

// CrawlConfig configures the site crawl stage.
type CrawlConfig struct {
	Concurrency     int `yaml:"concurrency" mapstructure:"concurrency"`
	MaxDepth        int `yaml:"max_depth" mapstructure:"max_depth"`
	MaxLinksPerPage int `yaml:"max_links_per_page" mapstructure:"max_links_per_page"`
}

// ImagesConfig configures image extraction and download.
type ImagesConfig struct {
	Dir         string `yaml:"dir" mapstructure:"dir"`
	MinBytes    int64  `yaml:"min_bytes" mapstructure:"min_bytes"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// EnrichConfig configures LLM enrichment.
type EnrichConfig struct {
	MaxAttempts     int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseTemperature float64 `yaml:"base_temperature" mapstructure:"base_temperature"`
	TemperatureStep float64 `yaml:"temperature_step" mapstructure:"temperature_step"`
	MaxDocChars     int     `yaml:"max_doc_chars" mapstructure:"max_doc_chars"`
}

// FilterConfig configures the vision-based logo filter.
type FilterConfig struct {
	Concurrency   int     `yaml:"concurrency" mapstructure:"concurrency"`
	LogoThreshold float64 `yaml:"logo_threshold" mapstructure:"logo_threshold"`
}

// ServerConfig configures the read-only HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VENUESCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "venuescout.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("overpass.endpoints", []string{
		"https://overpass-api.de/api/interpreter",
		"https://overpass.kumi.systems/api/interpreter",
		"https://maps.mail.ru/osm/tools/overpass/api/interpreter",
	})
	v.SetDefault("overpass.timeout_secs", 90)
	v.SetDefault("overpass.min_delay_secs", 2)
	v.SetDefault("renderer.base_url", "http://localhost:3000")
	v.SetDefault("renderer.timeout_ms", 30000)
	v.SetDefault("renderer.filter_threshold", 0.48)
	v.SetDefault("renderer.min_word_count", 75)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("jina.base_url", "https://api.clip.jina.ai")
	v.SetDefault("collect.tile_size_deg", 0.05)
	v.SetDefault("collect.selectors", []string{
		`amenity=events_venue`,
		`amenity=conference_centre`,
		`leisure=resort`,
		`tourism=hotel`,
		`historic=manor`,
		`historic=castle`,
	})
	v.SetDefault("prevet.concurrency", 10)
	v.SetDefault("prevet.timeout_secs", 5)
	v.SetDefault("crawl.concurrency", 5)
	v.SetDefault("crawl.max_depth", 3)
	v.SetDefault("crawl.max_links_per_page", 10)
	v.SetDefault("images.dir", "images")
	v.SetDefault("images.min_bytes", 51200)
	v.SetDefault("images.concurrency", 5)
	v.SetDefault("enrich.max_attempts", 3)
	v.SetDefault("enrich.base_temperature", 0.1)
	v.SetDefault("enrich.temperature_step", 0.2)
	v.SetDefault("enrich.max_doc_chars", 3000)
	v.SetDefault("filter.concurrency", 5)
	v.SetDefault("filter.logo_threshold", 0.85)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the configuration is usable for the given mode.
// Modes map to subcommands: collect, prevet, crawl, images, enrich, verify,
// run, serve, export, status.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			problems = append(problems, "store.path is required for sqlite")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for postgres")
		}
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	checkConcurrency := func(name string, v int) {
		if v < 1 || v > 50 {
			problems = append(problems, name+" must be between 1 and 50")
		}
	}

	switch mode {
	case "collect":
		if c.Collect.TileSizeDeg <= 0 {
			problems = append(problems, "collect.tile_size_deg must be > 0")
		}
		if len(c.Overpass.Endpoints) == 0 {
			problems = append(problems, "overpass.endpoints must not be empty")
		}
	case "prevet":
		checkConcurrency("prevet.concurrency", c.Prevet.Concurrency)
	case "crawl":
		checkConcurrency("crawl.concurrency", c.Crawl.Concurrency)
		if c.Renderer.BaseURL == "" {
			problems = append(problems, "renderer.base_url is required")
		}
	case "images":
		checkConcurrency("images.concurrency", c.Images.Concurrency)
		if c.Images.Dir == "" {
			problems = append(problems, "images.dir is required")
		}
	case "enrich":
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		if c.Enrich.MaxAttempts < 1 {
			problems = append(problems, "enrich.max_attempts must be >= 1")
		}
	case "verify":
		checkConcurrency("filter.concurrency", c.Filter.Concurrency)
		if c.Filter.LogoThreshold <= 0 || c.Filter.LogoThreshold >= 1 {
			problems = append(problems, "filter.logo_threshold must be in (0, 1)")
		}
	case "run":
		// The full pipeline needs everything the individual stages need.
		for _, m := range []string{"collect", "prevet", "crawl", "images", "enrich", "verify"} {
			if err := c.Validate(m); err != nil {
				problems = append(problems, err.Error())
			}
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be > 0")
		}
	case "export", "status":
		// Store checks above are sufficient.
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
