package models

// MConfig Structure
type MConfig struct {
	Name       string            `yaml:"name"`
	Host       string            `yaml:"host"`
	Port       int               `yaml:"port"`
	LogLevel   string            `yaml:"log_level"`
	GrpcHost   string            `yaml:"grpc_host"`
	GrpcPort   int               `yaml:"grpc_port"`
	Storage    MStorageConfig    `yaml:"storage"`
	Catalog    MCatalogConfig    `yaml:"catalog"`
	Network    MNetworkConfig    `yaml:"network"`
	Collectors MCollectorsConfig `yaml:"collectors"`
	Metrics    MMetricsConfig    `yaml:"metrics"`
	Schedule   MScheduleConfig   `yaml:"schedule"`
}

type MStorageConfig struct {
	DBType             string `yaml:"db_type"` // sqlite | postgres
	DBPath             string `yaml:"db_path"`
	DBConnectionString string `yaml:"db_connection_string"`
	HistoryBackend     string `yaml:"history_backend"` // json | sql
	HistoryPath        string `yaml:"history_path"`
	RunStatusPath      string `yaml:"run_status_path"`
	RetentionDays      int    `yaml:"retention_days"`
}

type MCatalogConfig struct {
	Provider string `yaml:"provider"` // yaml | sql
	Path     string `yaml:"path"`
}

type MNetworkConfig struct {
	Proxies        []string `yaml:"proxies"`
	ProxyListURL   string   `yaml:"proxy_list_url"`
	RequestTimeout int      `yaml:"timeout"`
	MaxRetries     int      `yaml:"retries"`
	UserAgent      string   `yaml:"user_agent"`
}

type MCollectorsConfig struct {
	API     MAPICollectorConfig     `yaml:"api"`
	Browser MBrowserCollectorConfig `yaml:"browser"`
}

type MAPICollectorConfig struct {
	Enabled           bool    `yaml:"enabled"`
	BaseURL           string  `yaml:"base_url"`
	SearchPath        string  `yaml:"search_path"`
	APIKey            string  `yaml:"api_key"`
	MaxConcurrency    int     `yaml:"max_concurrency"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type MBrowserCollectorConfig struct {
	Enabled          bool              `yaml:"enabled"`
	BaseURL          string            `yaml:"base_url"`
	WarmupPath       string            `yaml:"warmup_path"`
	ProductPath      string            `yaml:"product_path"` // "%s" is replaced by the url-escaped alias key
	DecoyPaths       []string          `yaml:"decoy_paths"`
	TimeoutSeconds   int               `yaml:"timeout_seconds"`
	MinDelayMs       int               `yaml:"min_delay_ms"`
	MaxDelayMs       int               `yaml:"max_delay_ms"`
	DecoyProbability float64           `yaml:"decoy_probability"`
	Seed             int64             `yaml:"seed"`
	Selectors        MBrowserSelectors `yaml:"selectors"`
}

type MBrowserSelectors struct {
	FloorPrice     string `yaml:"floor_price"`
	ActiveListings string `yaml:"active_listings"`
	UnitsSoldToday string `yaml:"units_sold_today"`
	LifetimeSold   string `yaml:"lifetime_sold"`
	DailyVolume    string `yaml:"daily_volume"`
}

type MMetricsConfig struct {
	ListingIncreaseCap int `yaml:"listing_increase_cap"`
}

type MScheduleConfig struct {
	Enabled     bool   `yaml:"enabled"`
	RefreshCron string `yaml:"refresh_cron"`
	Timezone    string `yaml:"timezone"`
}
