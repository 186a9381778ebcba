package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ConfigFileName is the file Load looks for in the config directory.
const ConfigFileName = "mapmarkers.cfg.json"

// SeedMarker is a marker present when the session starts
type SeedMarker struct {
	Lon         float64 `json:"lon" mapstructure:"lon"`
	Lat         float64 `json:"lat" mapstructure:"lat"`
	Title       string  `json:"title" mapstructure:"title"`
	Description string  `json:"description" mapstructure:"description"`
	Score       int     `json:"score" mapstructure:"score"`
}

// SessionConfig holds the initial map state
type SessionConfig struct {
	Center   [2]float64   // lon, lat
	Seed     []SeedMarker // markers added at startup
	SeedFile string       // export document imported at startup
}

// SelectionConfig holds popup selection behaviour
type SelectionConfig struct {
	Policy       string `json:"policy" mapstructure:"policy"`
	ClearOnLeave bool   `json:"clearOnLeave" mapstructure:"clearOnLeave"`
}

// ResolverConfig selects the nearest-marker implementation
type ResolverConfig struct {
	Index string `json:"index" mapstructure:"index"`
}

// FileConfig holds file storage sink settings
type FileConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds SQLite storage sink settings
type SQLiteConfig struct {
	Path         string        `json:"path" mapstructure:"path"` // empty for in-memory
	DumpPath     string        `json:"dumpPath" mapstructure:"dumpPath"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
}

// StorageConfig holds storage sink selection and per-sink settings
type StorageConfig struct {
	Type   string       `json:"type" mapstructure:"type"`
	File   FileConfig   `json:"file" mapstructure:"file"`
	SQLite SQLiteConfig `json:"sqlite" mapstructure:"sqlite"`
}

// DBConfig holds Postgres connection settings
type DBConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// DSN returns the Postgres connection string
func (c DBConfig) DSN() string {
	return fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=disable`,
		c.Host, c.Port, c.Username, c.Password, c.Database)
}

// StreamingConfig holds the live state stream settings
type StreamingConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	URL     string `json:"url" mapstructure:"url"`
	Secret  string `json:"secret" mapstructure:"secret"`
}

// InfluxConfig holds InfluxDB settings
type InfluxConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Protocol string `json:"protocol" mapstructure:"protocol"`
	Token    string `json:"token" mapstructure:"token"`
	Org      string `json:"org" mapstructure:"org"`
	Bucket   string `json:"bucket" mapstructure:"bucket"`
}

// ServerURL returns the InfluxDB base URL
func (c InfluxConfig) ServerURL() string {
	return fmt.Sprintf("%s://%s:%s", c.Protocol, c.Host, c.Port)
}

// GraylogConfig holds GELF log shipping settings
type GraylogConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled        bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName    string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout   time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	MetricInterval time.Duration `json:"metricInterval" mapstructure:"metricInterval"`
	Endpoint       string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure       bool          `json:"insecure" mapstructure:"insecure"`
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	// Set default values
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./mapmarkers_logs")

	viper.SetDefault("session.center", []float64{24.000906986937594, 49.80259820083478})
	viper.SetDefault("session.seed", []map[string]any{})
	viper.SetDefault("session.seedFile", "")

	viper.SetDefault("selection.policy", "exclusive")
	viper.SetDefault("selection.clearOnLeave", false)

	viper.SetDefault("resolver.index", "linear")

	viper.SetDefault("storage.type", "file")
	viper.SetDefault("storage.file.outputDir", "./exports")
	viper.SetDefault("storage.file.compressOutput", false)
	viper.SetDefault("storage.sqlite.path", "")
	viper.SetDefault("storage.sqlite.dumpPath", "")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "mapmarkers")

	viper.SetDefault("streaming.enabled", false)
	viper.SetDefault("streaming.url", "ws://localhost:5000/api/markers")
	viper.SetDefault("streaming.secret", "")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "mapmarkers")
	viper.SetDefault("influx.bucket", "marker-scores")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "mapmarkers")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.metricInterval", "30s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetConfigName(ConfigFileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetSessionConfig returns the initial map state.
func GetSessionConfig() (SessionConfig, error) {
	cfg := SessionConfig{
		SeedFile: viper.GetString("session.seedFile"),
	}

	var center []float64
	if err := viper.UnmarshalKey("session.center", &center); err != nil {
		return cfg, fmt.Errorf("error reading session.center: %w", err)
	}
	if len(center) != 2 {
		return cfg, fmt.Errorf("session.center must be [lon, lat], got %v", center)
	}
	cfg.Center = [2]float64{center[0], center[1]}

	if err := viper.UnmarshalKey("session.seed", &cfg.Seed); err != nil {
		return cfg, fmt.Errorf("error reading session.seed: %w", err)
	}
	return cfg, nil
}

// GetSelectionConfig returns popup selection settings.
func GetSelectionConfig() SelectionConfig {
	return SelectionConfig{
		Policy:       viper.GetString("selection.policy"),
		ClearOnLeave: viper.GetBool("selection.clearOnLeave"),
	}
}

// GetResolverConfig returns the resolver selection.
func GetResolverConfig() ResolverConfig {
	return ResolverConfig{
		Index: viper.GetString("resolver.index"),
	}
}

// GetStorageConfig returns storage sink settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		File: FileConfig{
			OutputDir:      viper.GetString("storage.file.outputDir"),
			CompressOutput: viper.GetBool("storage.file.compressOutput"),
		},
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpPath:     viper.GetString("storage.sqlite.dumpPath"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
	}
}

// GetDBConfig returns Postgres connection settings.
func GetDBConfig() DBConfig {
	return DBConfig{
		Host:     viper.GetString("db.host"),
		Port:     viper.GetString("db.port"),
		Username: viper.GetString("db.username"),
		Password: viper.GetString("db.password"),
		Database: viper.GetString("db.database"),
	}
}

// GetStreamingConfig returns live state stream settings.
func GetStreamingConfig() StreamingConfig {
	return StreamingConfig{
		Enabled: viper.GetBool("streaming.enabled"),
		URL:     viper.GetString("streaming.url"),
		Secret:  viper.GetString("streaming.secret"),
	}
}

// GetInfluxConfig returns InfluxDB settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Protocol: viper.GetString("influx.protocol"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Bucket:   viper.GetString("influx.bucket"),
	}
}

// GetGraylogConfig returns GELF settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetOTelConfig returns OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:        viper.GetBool("otel.enabled"),
		ServiceName:    viper.GetString("otel.serviceName"),
		BatchTimeout:   viper.GetDuration("otel.batchTimeout"),
		MetricInterval: viper.GetDuration("otel.metricInterval"),
		Endpoint:       viper.GetString("otel.endpoint"),
		Insecure:       viper.GetBool("otel.insecure"),
	}
}
