package conf

// Probability scales reported by the classifier.
const (
	ScalePercent  = "percent"
	ScaleFraction = "fraction"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Object storage backends.
const (
	BackendLocal = "local"
	BackendSFTP  = "sftp"
	BackendFTP   = "ftp"
)
