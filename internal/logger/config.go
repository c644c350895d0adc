package logger

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	DefaultLevel string            `yaml:"defaultlevel"` // default log level for all modules
	Console      ConsoleOutput     `yaml:"console"`
	FileOutput   FileOutput        `yaml:"fileoutput"`
	ModuleLevels map[string]string `yaml:"modulelevels"` // per-module log levels
}

// ConsoleOutput writes human readable lines to stdout.
type ConsoleOutput struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
}

// FileOutput writes JSON lines to a rotated file.
type FileOutput struct {
	Enabled         bool   `yaml:"enabled"`
	Path            string `yaml:"path"`
	MaxSize         int    `yaml:"maxsize"`         // MB before rotation
	MaxAge          int    `yaml:"maxage"`          // days to keep rotated logs
	MaxRotatedFiles int    `yaml:"maxrotatedfiles"` // 0 = no limit
	Compress        bool   `yaml:"compress"`
	Level           string `yaml:"level"`
}

const (
	DefaultLogLevel        = "info"
	DefaultLogPath         = "logs/dermascan.log"
	DefaultMaxSize         = 100
	DefaultMaxAge          = 30
	DefaultMaxRotatedFiles = 10
)

// DefaultConfig returns a console-only configuration at info level.
func DefaultConfig() *LoggingConfig {
	return &LoggingConfig{
		DefaultLevel: DefaultLogLevel,
		Console:      ConsoleOutput{Enabled: true, Level: DefaultLogLevel},
		FileOutput: FileOutput{
			Path:            DefaultLogPath,
			MaxSize:         DefaultMaxSize,
			MaxAge:          DefaultMaxAge,
			MaxRotatedFiles: DefaultMaxRotatedFiles,
			Level:           DefaultLogLevel,
		},
	}
}
