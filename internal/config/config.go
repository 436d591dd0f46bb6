package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// Load reads configuration from a JSON file and sets default values.
// configDir is the directory containing the config file. A missing config
// file is not an error; the defaults are used as-is.
func Load(configDir string) error {
	// Set default values
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")
	viper.SetDefault("dataDir", "./assets/data/markers")

	viper.SetDefault("maps", []string{"forest", "desert", "mountains"})

	viper.SetDefault("db.driver", "sqlite")
	viper.SetDefault("db.path", "./tracker-state.db")
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "tracker")

	viper.SetDefault("storage.maxValueBytes", 5*1024*1024)

	viper.SetDefault("search.maxResults", 100)

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.intervalSeconds", 30)

	viper.SetConfigName("tracker.cfg.json")
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// KnownMaps returns the configured list of known map ids.
func KnownMaps() []string {
	return viper.GetStringSlice("maps")
}
