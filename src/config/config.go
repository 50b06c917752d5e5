package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"card-market-tracker/src/models"
	"card-market-tracker/src/utils"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig creates a new Config from a YAML file, then applies .env / environment overrides.
func NewConfig(configPath string) (*Config, error) {
	// 1. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	// 2. Unmarshal data into the models struct
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	config := &Config{MConfig: &modelConfig}

	// 3. Secrets and deployment overrides; a missing .env is fine
	_ = godotenv.Load()
	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}
	config.ApplyDefaults()

	// 4. Validate the loaded configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// ApplyEnv overlays environment variables onto the file configuration.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("CARD_API_KEY"); v != "" {
		c.Collectors.API.APIKey = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Storage.DBConnectionString = v
	}
	if v := os.Getenv("CARD_DB_TYPE"); v != "" {
		c.Storage.DBType = strings.ToLower(v)
	}
	if v := os.Getenv("CARD_HISTORY_PATH"); v != "" {
		c.Storage.HistoryPath = v
	}
	if v := os.Getenv("CARD_BROWSER_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid CARD_BROWSER_SEED %q: %w", v, err)
		}
		c.Collectors.Browser.Seed = seed
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Port = port
	}
	return nil
}

// -----------------------------------------------------------------------------

// ApplyDefaults fills optional settings left empty in the file.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
	if c.Storage.HistoryBackend == "" {
		c.Storage.HistoryBackend = "json"
	}
	if c.Storage.RetentionDays == 0 {
		c.Storage.RetentionDays = utils.DefaultRetentionDays
	}
	if c.Catalog.Provider == "" {
		c.Catalog.Provider = "yaml"
	}
	if c.Network.RequestTimeout == 0 {
		c.Network.RequestTimeout = 30
	}
	if c.Metrics.ListingIncreaseCap == 0 {
		c.Metrics.ListingIncreaseCap = utils.DefaultListingCap
	}

	api := &c.Collectors.API
	if api.MaxConcurrency == 0 {
		api.MaxConcurrency = 4
	}
	if api.TimeoutSeconds == 0 {
		api.TimeoutSeconds = 30
	}
	if api.RequestsPerSecond == 0 {
		api.RequestsPerSecond = 2
	}
	if api.Burst == 0 {
		api.Burst = 1
	}

	br := &c.Collectors.Browser
	if br.TimeoutSeconds == 0 {
		br.TimeoutSeconds = 60
	}
	if br.MinDelayMs == 0 && br.MaxDelayMs == 0 {
		br.MinDelayMs, br.MaxDelayMs = 2000, 6000
	}

	if c.Schedule.RefreshCron == "" {
		c.Schedule.RefreshCron = "0 6 * * *"
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = "UTC"
	}
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	// Validate Server configuration (Flattened)
	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}
	if c.GrpcPort != 0 && (c.GrpcPort <= 1024 || c.GrpcPort > 65535) {
		return fmt.Errorf("invalid grpc port number: %d", c.GrpcPort)
	}

	// Validate Storage configuration
	switch c.Storage.DBType {
	case "sqlite":
		if c.Storage.DBPath == "" {
			return fmt.Errorf("database path cannot be empty for sqlite")
		}
	case "postgres":
		if c.Storage.DBConnectionString == "" {
			return fmt.Errorf("connection string cannot be empty for postgres")
		}
	default:
		return fmt.Errorf("unsupported database type %q (sqlite or postgres)", c.Storage.DBType)
	}
	switch c.Storage.HistoryBackend {
	case "json":
		if c.Storage.HistoryPath == "" {
			return fmt.Errorf("history path cannot be empty for the json history backend")
		}
	case "sql":
	default:
		return fmt.Errorf("unsupported history backend %q (json or sql)", c.Storage.HistoryBackend)
	}
	if c.Storage.RunStatusPath == "" {
		return fmt.Errorf("run status path cannot be empty")
	}

	// Validate Catalog configuration
	switch c.Catalog.Provider {
	case "yaml":
		if c.Catalog.Path == "" {
			return fmt.Errorf("catalog path cannot be empty for the yaml provider")
		}
	case "sql":
	default:
		return fmt.Errorf("unsupported catalog provider %q (yaml or sql)", c.Catalog.Provider)
	}

	// Validate Network configuration
	if c.Network.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be greater than 0")
	}
	if c.Network.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	// Validate Collectors configuration
	api := c.Collectors.API
	br := c.Collectors.Browser
	if !api.Enabled && !br.Enabled {
		return fmt.Errorf("at least one collector must be enabled")
	}
	if api.Enabled {
		if api.BaseURL == "" {
			return fmt.Errorf("api collector base_url cannot be empty")
		}
		if api.MaxConcurrency <= 0 {
			return fmt.Errorf("api collector max_concurrency must be greater than 0")
		}
		if api.RequestsPerSecond <= 0 || api.Burst <= 0 {
			return fmt.Errorf("api collector rate limit must be positive")
		}
	}
	if br.Enabled {
		if br.BaseURL == "" || br.ProductPath == "" {
			return fmt.Errorf("browser collector base_url and product_path cannot be empty")
		}
		if br.MinDelayMs < 0 || br.MaxDelayMs < br.MinDelayMs {
			return fmt.Errorf("browser collector delays must satisfy 0 <= min_delay_ms <= max_delay_ms")
		}
		if br.DecoyProbability < 0 || br.DecoyProbability > 1 {
			return fmt.Errorf("browser collector decoy_probability must be within [0, 1]")
		}
		if br.DecoyProbability > 0 && len(br.DecoyPaths) == 0 {
			return fmt.Errorf("browser collector needs decoy_paths when decoy_probability > 0")
		}
	}

	// Validate Metrics configuration
	if c.Metrics.ListingIncreaseCap <= 0 {
		return fmt.Errorf("listing increase cap must be greater than 0")
	}

	return nil
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	// 1. Marshal the struct to YAML
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// 2. Write to file (0644 permissions)
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
