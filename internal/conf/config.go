// Package conf loads and validates dermascan settings.
package conf

import (
	"crypto/rand"
	"embed"
	"encoding/base64"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/dermascan/dermascan/internal/errors"
	"github.com/dermascan/dermascan/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// Settings is the root of the configuration tree.
type Settings struct {
	Debug bool `yaml:"debug"`

	Main struct {
		Name        string `yaml:"name"`        // clinic or deployment name shown in alerts
		Environment string `yaml:"environment"` // production, staging, development
	} `yaml:"main"`

	Logging      logger.LoggingConfig `yaml:"logging"`
	WebServer    WebServerSettings    `yaml:"webserver"`
	Inference    InferenceSettings    `yaml:"inference"`
	Database     DatabaseSettings     `yaml:"database"`
	Storage      StorageSettings      `yaml:"storage"`
	Auth         AuthSettings         `yaml:"auth"`
	Workflow     WorkflowSettings     `yaml:"workflow"`
	Capture      CaptureSettings      `yaml:"capture"`
	MQTT         MQTTSettings         `yaml:"mqtt"`
	Notification NotificationSettings `yaml:"notification"`
	Telemetry    TelemetrySettings    `yaml:"telemetry"`
}

// WebServerSettings configures the HTTP API.
type WebServerSettings struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readtimeout"`
	WriteTimeout    time.Duration `yaml:"writetimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdowntimeout"`
	BodyLimit       string        `yaml:"bodylimit"` // echo size notation, e.g. "16M"
	AllowedOrigins  []string      `yaml:"allowedorigins"`
	Metrics         bool          `yaml:"metrics"` // expose /metrics
}

// InferenceSettings configures the external classifier.
type InferenceSettings struct {
	URL              string        `yaml:"url"` // absolute URL of the predict endpoint
	Timeout          time.Duration `yaml:"timeout"`
	ProbabilityScale string        `yaml:"probabilityscale"` // percent or fraction
	Labels           struct {
		Melanoma []string `yaml:"melanoma"`
		NonSkin  []string `yaml:"nonskin"`
	} `yaml:"labels"`
}

// DatabaseSettings selects the SQL backend.
type DatabaseSettings struct {
	Driver string `yaml:"driver"` // sqlite, mysql or postgres
	SQLite struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`
	MySQL struct {
		Host     string `yaml:"host"`
		Port     string `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Database string `yaml:"database"`
	} `yaml:"mysql"`
	Postgres struct {
		Host     string `yaml:"host"`
		Port     string `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Database string `yaml:"database"`
		SSLMode  string `yaml:"sslmode"`
	} `yaml:"postgres"`
	SlowQueryThreshold time.Duration `yaml:"slowquerythreshold"`
}

// StorageSettings selects where examination images live.
type StorageSettings struct {
	Backend       string `yaml:"backend"` // local, sftp or ftp
	Bucket        string `yaml:"bucket"`
	PublicBaseURL string `yaml:"publicbaseurl"`
	Local         struct {
		Path string `yaml:"path"`
	} `yaml:"local"`
	SFTP struct {
		Host           string        `yaml:"host"`
		Port           int           `yaml:"port"`
		Username       string        `yaml:"username"`
		Password       string        `yaml:"password"`
		KeyFile        string        `yaml:"keyfile"`
		KnownHostsFile string        `yaml:"knownhostsfile"`
		BasePath       string        `yaml:"basepath"`
		Timeout        time.Duration `yaml:"timeout"`
	} `yaml:"sftp"`
	FTP struct {
		Host     string        `yaml:"host"`
		Port     int           `yaml:"port"`
		Username string        `yaml:"username"`
		Password string        `yaml:"password"`
		BasePath string        `yaml:"basepath"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"ftp"`
}

// AuthSettings configures doctor sessions.
type AuthSettings struct {
	JWTSecret      string        `yaml:"jwtsecret"`
	SessionTTL     time.Duration `yaml:"sessionttl"`
	CookieSecret   string        `yaml:"cookiesecret"`
	CookieSecure   bool          `yaml:"cookiesecure"`
	LoginRateLimit int           `yaml:"loginratelimit"` // attempts per minute per email
	BcryptCost     int           `yaml:"bcryptcost"`
	Redis          struct {
		Addr     string `yaml:"addr"` // empty keeps revocations in memory
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
}

// WorkflowSettings tunes the examination workflow.
type WorkflowSettings struct {
	VisitTTL            time.Duration `yaml:"visitttl"`
	SearchMinChars      int           `yaml:"searchminchars"`
	SearchLimit         int           `yaml:"searchlimit"`
	HistoryPageSize     int           `yaml:"historypagesize"`
	IDAllocRetries      int           `yaml:"idallocretries"`
	DefaultGender       string        `yaml:"defaultgender"`
	ExaminationIDPrefix string        `yaml:"examinationidprefix"`
}

// CaptureSettings tunes image intake.
type CaptureSettings struct {
	JPEGQuality  int           `yaml:"jpegquality"`
	PreviewTTL   time.Duration `yaml:"previewttl"`
	MaxUploadMiB int           `yaml:"maxuploadmib"`
}

// MQTTSettings configures the event publisher.
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"clientid"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	Retain   bool   `yaml:"retain"`
}

// NotificationSettings configures melanoma alerts.
type NotificationSettings struct {
	Enabled bool          `yaml:"enabled"`
	URLs    []string      `yaml:"urls"` // shoutrrr service URLs
	Timeout time.Duration `yaml:"timeout"`
}

// TelemetrySettings configures error reporting.
type TelemetrySettings struct {
	SentryDSN string `yaml:"sentrydsn"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables.
// An explicit path overrides the default search paths.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper sets defaults, binds environment variables and reads the config file.
func initViper(configFile string) error {
	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		return err
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return err
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Defaults plus environment are a complete configuration.
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// DefaultConfigYAML returns the embedded default configuration.
func DefaultConfigYAML() ([]byte, error) {
	return fs.ReadFile(configFiles, "config.yaml")
}

// WriteDefaultConfig writes the embedded default configuration to path, with
// freshly generated secrets. Existing files are left alone unless force is set.
func WriteDefaultConfig(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return errors.Newf("config file already exists: %s", path).
			Category(errors.CategoryConflict).
			Context("operation", "write-default-config").
			Build()
	}

	data, err := DefaultConfigYAML()
	if err != nil {
		return fmt.Errorf("error reading embedded config: %w", err)
	}

	var settings Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return fmt.Errorf("error parsing embedded config: %w", err)
	}
	settings.Auth.JWTSecret = GenerateRandomSecret()
	settings.Auth.CookieSecret = GenerateRandomSecret()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	return SaveYAMLConfig(path, &settings)
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath through a temporary file and rename.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Chmod(0o600); err != nil {
		tempFile.Close()
		return fmt.Errorf("error setting config permissions: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}

// GenerateRandomSecret returns 256 bits of URL-safe base64 encoded randomness.
func GenerateRandomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// ListenAddress joins host and port for the HTTP listener.
func (s *WebServerSettings) ListenAddress() string {
	return s.Host + ":" + s.Port
}
