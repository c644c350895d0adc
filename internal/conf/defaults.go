// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "dermascan")
	viper.SetDefault("main.environment", "production")

	viper.SetDefault("logging.defaultlevel", "info")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.fileoutput.enabled", false)
	viper.SetDefault("logging.fileoutput.path", "logs/dermascan.log")
	viper.SetDefault("logging.fileoutput.maxsize", 100)
	viper.SetDefault("logging.fileoutput.maxage", 30)
	viper.SetDefault("logging.fileoutput.maxrotatedfiles", 10)
	viper.SetDefault("logging.fileoutput.level", "info")

	viper.SetDefault("webserver.host", "")
	viper.SetDefault("webserver.port", "8080")
	viper.SetDefault("webserver.readtimeout", 30*time.Second)
	viper.SetDefault("webserver.writetimeout", 90*time.Second)
	viper.SetDefault("webserver.shutdowntimeout", 10*time.Second)
	viper.SetDefault("webserver.bodylimit", "16M")
	viper.SetDefault("webserver.allowedorigins", []string{})
	viper.SetDefault("webserver.metrics", true)

	viper.SetDefault("inference.url", "http://localhost:8000/predict")
	viper.SetDefault("inference.timeout", 60*time.Second)
	viper.SetDefault("inference.probabilityscale", ScalePercent)
	viper.SetDefault("inference.labels.melanoma", []string{"Melanoma"})
	viper.SetDefault("inference.labels.nonskin", []string{"NonSkin"})

	viper.SetDefault("database.driver", DriverSQLite)
	viper.SetDefault("database.sqlite.path", "dermascan.db")
	viper.SetDefault("database.mysql.host", "localhost")
	viper.SetDefault("database.mysql.port", "3306")
	viper.SetDefault("database.mysql.database", "dermascan")
	viper.SetDefault("database.postgres.host", "localhost")
	viper.SetDefault("database.postgres.port", "5432")
	viper.SetDefault("database.postgres.database", "dermascan")
	viper.SetDefault("database.postgres.sslmode", "disable")
	viper.SetDefault("database.slowquerythreshold", 200*time.Millisecond)

	viper.SetDefault("storage.backend", BackendLocal)
	viper.SetDefault("storage.bucket", "image")
	viper.SetDefault("storage.publicbaseurl", "http://localhost:8080/images")
	viper.SetDefault("storage.local.path", "data/images")
	viper.SetDefault("storage.sftp.port", 22)
	viper.SetDefault("storage.sftp.timeout", 30*time.Second)
	viper.SetDefault("storage.ftp.port", 21)
	viper.SetDefault("storage.ftp.timeout", 30*time.Second)

	viper.SetDefault("auth.sessionttl", 12*time.Hour)
	viper.SetDefault("auth.cookiesecure", false)
	viper.SetDefault("auth.loginratelimit", 10)
	viper.SetDefault("auth.bcryptcost", 10)
	viper.SetDefault("auth.redis.db", 0)

	viper.SetDefault("workflow.visitttl", 2*time.Hour)
	viper.SetDefault("workflow.searchminchars", 2)
	viper.SetDefault("workflow.searchlimit", 10)
	viper.SetDefault("workflow.historypagesize", 8)
	viper.SetDefault("workflow.idallocretries", 5)
	viper.SetDefault("workflow.defaultgender", "Laki-laki")
	viper.SetDefault("workflow.examinationidprefix", "PSN-")

	viper.SetDefault("capture.jpegquality", 95)
	viper.SetDefault("capture.previewttl", 15*time.Minute)
	viper.SetDefault("capture.maxuploadmib", 10)

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.clientid", "dermascan")
	viper.SetDefault("mqtt.topic", "dermascan/examinations")
	viper.SetDefault("mqtt.qos", 1)
	viper.SetDefault("mqtt.retain", false)

	viper.SetDefault("notification.enabled", false)
	viper.SetDefault("notification.urls", []string{})
	viper.SetDefault("notification.timeout", 10*time.Second)

	viper.SetDefault("telemetry.sentrydsn", "")
}
