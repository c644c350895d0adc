// conf/validate.go

package conf

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		validateWebServerSettings,
		validateInferenceSettings,
		validateDatabaseSettings,
		validateStorageSettings,
		validateAuthSettings,
		validateWorkflowSettings,
		validateCaptureSettings,
		validateMQTTSettings,
	}
	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateWebServerSettings(s *Settings) error {
	port, err := strconv.Atoi(s.WebServer.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("webserver.port %q is not a valid port", s.WebServer.Port)
	}
	return nil
}

func validateInferenceSettings(s *Settings) error {
	u, err := url.Parse(s.Inference.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("inference.url %q must be an absolute http(s) URL", s.Inference.URL)
	}
	if s.Inference.Timeout <= 0 {
		return fmt.Errorf("inference.timeout must be positive")
	}
	switch s.Inference.ProbabilityScale {
	case ScalePercent, ScaleFraction:
	default:
		return fmt.Errorf("inference.probabilityscale must be %q or %q", ScalePercent, ScaleFraction)
	}
	if len(s.Inference.Labels.Melanoma) == 0 {
		return fmt.Errorf("inference.labels.melanoma must name at least one label")
	}
	return nil
}

func validateDatabaseSettings(s *Settings) error {
	switch s.Database.Driver {
	case DriverSQLite:
		if s.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case DriverMySQL:
		if s.Database.MySQL.Host == "" || s.Database.MySQL.Database == "" {
			return fmt.Errorf("database.mysql host and database are required")
		}
	case DriverPostgres:
		if s.Database.Postgres.Host == "" || s.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres host and database are required")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", s.Database.Driver)
	}
	return nil
}

func validateStorageSettings(s *Settings) error {
	if s.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required")
	}
	if !strings.HasPrefix(s.Storage.PublicBaseURL, "http://") && !strings.HasPrefix(s.Storage.PublicBaseURL, "https://") {
		return fmt.Errorf("storage.publicbaseurl %q must be an absolute http(s) URL", s.Storage.PublicBaseURL)
	}
	switch s.Storage.Backend {
	case BackendLocal:
		if s.Storage.Local.Path == "" {
			return fmt.Errorf("storage.local.path is required")
		}
	case BackendSFTP:
		if s.Storage.SFTP.Host == "" || s.Storage.SFTP.Username == "" {
			return fmt.Errorf("storage.sftp host and username are required")
		}
		if s.Storage.SFTP.Password == "" && s.Storage.SFTP.KeyFile == "" {
			return fmt.Errorf("storage.sftp needs a password or a key file")
		}
	case BackendFTP:
		if s.Storage.FTP.Host == "" {
			return fmt.Errorf("storage.ftp.host is required")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", s.Storage.Backend)
	}
	return nil
}

func validateAuthSettings(s *Settings) error {
	if s.Auth.SessionTTL <= 0 {
		return fmt.Errorf("auth.sessionttl must be positive")
	}
	if s.Auth.LoginRateLimit < 1 {
		return fmt.Errorf("auth.loginratelimit must be at least 1")
	}
	if s.Auth.BcryptCost < 4 || s.Auth.BcryptCost > 31 {
		return fmt.Errorf("auth.bcryptcost must be between 4 and 31")
	}
	return nil
}

func validateWorkflowSettings(s *Settings) error {
	w := s.Workflow
	switch {
	case w.SearchMinChars < 1:
		return fmt.Errorf("workflow.searchminchars must be at least 1")
	case w.SearchLimit < 1:
		return fmt.Errorf("workflow.searchlimit must be at least 1")
	case w.HistoryPageSize < 1:
		return fmt.Errorf("workflow.historypagesize must be at least 1")
	case w.IDAllocRetries < 1:
		return fmt.Errorf("workflow.idallocretries must be at least 1")
	case w.ExaminationIDPrefix == "":
		return fmt.Errorf("workflow.examinationidprefix is required")
	case w.VisitTTL <= 0:
		return fmt.Errorf("workflow.visitttl must be positive")
	}
	return nil
}

func validateCaptureSettings(s *Settings) error {
	if s.Capture.JPEGQuality < 1 || s.Capture.JPEGQuality > 100 {
		return fmt.Errorf("capture.jpegquality must be between 1 and 100")
	}
	if s.Capture.MaxUploadMiB < 1 {
		return fmt.Errorf("capture.maxuploadmib must be at least 1")
	}
	return nil
}

func validateMQTTSettings(s *Settings) error {
	if !s.MQTT.Enabled {
		return nil
	}
	if s.MQTT.Broker == "" || s.MQTT.Topic == "" {
		return fmt.Errorf("mqtt broker and topic are required when mqtt is enabled")
	}
	if s.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	return nil
}
