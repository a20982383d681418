package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultNessusURL      = "https://localhost:8834"
	DefaultOutputDir      = "./nessus_reports"
	DefaultExportFormat   = "nessus"
	DefaultPollInterval   = 2 * time.Second
	DefaultPollTimeout    = 30 * time.Minute
	DefaultDojoURL        = "http://localhost:8080"
	DefaultEngagementName = "Nessus Automated Import"
	DefaultScanType       = "Web Application Test"
)

type Config struct {
	Nessus  NessusConfig  `mapstructure:"nessus"`
	Dojo    DojoConfig    `mapstructure:"defectdojo"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type NessusConfig struct {
	URL                string        `mapstructure:"url"`
	AccessKey          string        `mapstructure:"access_key"`
	SecretKey          string        `mapstructure:"secret_key"`
	OutputDir          string        `mapstructure:"output_dir"`
	Format             string        `mapstructure:"format"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	PollTimeout        time.Duration `mapstructure:"poll_timeout"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
}

type DojoConfig struct {
	URL            string `mapstructure:"url"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	Directory      string `mapstructure:"directory"`
	ProductName    string `mapstructure:"product_name"`
	EngagementName string `mapstructure:"engagement_name"`
	ScanType       string `mapstructure:"scan_type"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var cfg *Config

// InitConfig loads .env, the optional YAML config file and environment
// overrides into the package-level Config. Flags must already be bound to
// viper keys by the caller.
func InitConfig(cfgFile string) error {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "scanbridge"))
		}
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.BindEnv("nessus.url", "NESSUS_URL")
	viper.BindEnv("nessus.access_key", "NESSUS_ACCESS_KEY")
	viper.BindEnv("nessus.secret_key", "NESSUS_SECRET_KEY")
	viper.BindEnv("nessus.output_dir", "NESSUS_OUTPUT_DIR")
	viper.BindEnv("nessus.poll_timeout", "NESSUS_POLL_TIMEOUT")
	viper.BindEnv("defectdojo.url", "DOJO_URL")
	viper.BindEnv("defectdojo.username", "DOJO_USERNAME")
	viper.BindEnv("defectdojo.password", "DOJO_PASSWORD")
	viper.BindEnv("defectdojo.directory", "DOJO_REPORT_DIR")
	viper.BindEnv("logging.level", "LOG_LEVEL")
	viper.BindEnv("logging.format", "LOG_FORMAT")

	viper.SetDefault("nessus.url", DefaultNessusURL)
	viper.SetDefault("nessus.output_dir", DefaultOutputDir)
	viper.SetDefault("nessus.format", DefaultExportFormat)
	viper.SetDefault("nessus.poll_interval", DefaultPollInterval)
	viper.SetDefault("nessus.poll_timeout", DefaultPollTimeout)
	viper.SetDefault("defectdojo.url", DefaultDojoURL)
	viper.SetDefault("defectdojo.directory", DefaultOutputDir)
	viper.SetDefault("defectdojo.engagement_name", DefaultEngagementName)
	viper.SetDefault("defectdojo.scan_type", DefaultScanType)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "console")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	c := &Config{}
	if err := viper.Unmarshal(c); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	cfg = c
	return nil
}

func Get() *Config {
	if cfg == nil {
		if err := InitConfig(""); err != nil {
			cfg = &Config{}
		}
	}
	return cfg
}

func (c *Config) ValidateExporter() error {
	if c.Nessus.AccessKey == "" {
		return fmt.Errorf("Nessus access key required. Set via --access-key, NESSUS_ACCESS_KEY, or config file")
	}
	if c.Nessus.SecretKey == "" {
		return fmt.Errorf("Nessus secret key required. Set via --secret-key, NESSUS_SECRET_KEY, or config file")
	}
	if c.Nessus.PollInterval < 0 || c.Nessus.PollTimeout < 0 {
		return fmt.Errorf("poll interval and poll timeout must not be negative")
	}
	return nil
}

func (c *Config) ValidateImporter() error {
	if c.Dojo.Username == "" {
		return fmt.Errorf("DefectDojo username required. Set via --username, DOJO_USERNAME, or config file")
	}
	if c.Dojo.Password == "" {
		return fmt.Errorf("DefectDojo password required. Set via --password, DOJO_PASSWORD, or config file")
	}
	return nil
}

func (c *Config) GetNessusURL() string {
	if c.Nessus.URL != "" {
		return c.Nessus.URL
	}
	return DefaultNessusURL
}

func (c *Config) GetOutputDir() string {
	if c.Nessus.OutputDir != "" {
		return c.Nessus.OutputDir
	}
	return DefaultOutputDir
}

func (c *Config) GetFormat() string {
	if c.Nessus.Format != "" {
		return c.Nessus.Format
	}
	return DefaultExportFormat
}

func (c *Config) GetPollInterval() time.Duration {
	if c.Nessus.PollInterval > 0 {
		return c.Nessus.PollInterval
	}
	return DefaultPollInterval
}

// GetPollTimeout returns zero when polling should be unbounded.
func (c *Config) GetPollTimeout() time.Duration {
	return c.Nessus.PollTimeout
}

func (c *Config) GetDojoURL() string {
	if c.Dojo.URL != "" {
		return c.Dojo.URL
	}
	return DefaultDojoURL
}

func (c *Config) GetReportDir() string {
	if c.Dojo.Directory != "" {
		return c.Dojo.Directory
	}
	return DefaultOutputDir
}

func (c *Config) GetEngagementName() string {
	if c.Dojo.EngagementName != "" {
		return c.Dojo.EngagementName
	}
	return DefaultEngagementName
}

func (c *Config) GetScanType() string {
	if c.Dojo.ScanType != "" {
		return c.Dojo.ScanType
	}
	return DefaultScanType
}
