// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings
type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "DERMASCAN_DEBUG", validateEnvBool},

		{"webserver.port", "DERMASCAN_PORT", validateEnvPort},

		{"inference.url", "DERMASCAN_INFERENCE_URL", validateEnvURL},
		{"inference.timeout", "DERMASCAN_INFERENCE_TIMEOUT", validateEnvDuration},
		{"inference.probabilityscale", "DERMASCAN_INFERENCE_SCALE", validateEnvScale},

		{"database.driver", "DERMASCAN_DB_DRIVER", validateEnvDriver},
		{"database.sqlite.path", "DERMASCAN_SQLITE_PATH", nil},
		{"database.mysql.host", "DERMASCAN_MYSQL_HOST", nil},
		{"database.mysql.username", "DERMASCAN_MYSQL_USER", nil},
		{"database.mysql.password", "DERMASCAN_MYSQL_PASSWORD", nil},
		{"database.postgres.host", "DERMASCAN_POSTGRES_HOST", nil},
		{"database.postgres.username", "DERMASCAN_POSTGRES_USER", nil},
		{"database.postgres.password", "DERMASCAN_POSTGRES_PASSWORD", nil},

		{"storage.backend", "DERMASCAN_STORAGE_BACKEND", validateEnvBackend},
		{"storage.publicbaseurl", "DERMASCAN_STORAGE_PUBLIC_URL", validateEnvURL},

		{"auth.jwtsecret", "DERMASCAN_JWT_SECRET", nil},
		{"auth.cookiesecret", "DERMASCAN_COOKIE_SECRET", nil},
		{"auth.sessionttl", "DERMASCAN_SESSION_TTL", validateEnvDuration},
		{"auth.redis.addr", "DERMASCAN_REDIS_ADDR", nil},

		{"mqtt.broker", "DERMASCAN_MQTT_BROKER", nil},
		{"telemetry.sentrydsn", "DERMASCAN_SENTRY_DSN", nil},
	}
}

// bindEnvVars binds every environment variable and validates the ones that are set
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}
		if binding.Validate == nil {
			continue
		}
		if value := os.Getenv(binding.EnvVar); value != "" {
			if err := binding.Validate(value); err != nil {
				warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, value, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("must be a port number between 1 and 65535")
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL")
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fmt.Errorf("must be a positive duration such as 30s")
	}
	return nil
}

func validateEnvScale(value string) error {
	switch value {
	case ScalePercent, ScaleFraction:
		return nil
	}
	return fmt.Errorf("must be %q or %q", ScalePercent, ScaleFraction)
}

func validateEnvDriver(value string) error {
	switch value {
	case DriverSQLite, DriverMySQL, DriverPostgres:
		return nil
	}
	return fmt.Errorf("must be one of %s, %s, %s", DriverSQLite, DriverMySQL, DriverPostgres)
}

func validateEnvBackend(value string) error {
	switch value {
	case BackendLocal, BackendSFTP, BackendFTP:
		return nil
	}
	return fmt.Errorf("must be one of %s, %s, %s", BackendLocal, BackendSFTP, BackendFTP)
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables() error {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return bindEnvVars()
}
