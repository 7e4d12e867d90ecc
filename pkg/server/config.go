package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/updepot/updepot/pkg/registry"
)

func init() {
	viper.SetDefault("dataDir", "/var/lib/updepot/")
	viper.SetDefault("databasePath", "/var/db/updepot/updepot.db")
	viper.SetDefault("geoEndpoint", "http://ip-api.com/json")
	viper.SetDefault("geoLookup", false)
	viper.SetDefault("geoTimeout", "2s")
	viper.SetDefault("listenAddress", "0.0.0.0:3000")
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("maxUploadSize", 200*1024*1024)
	viper.SetDefault("publicBaseUrl", "")
	viper.SetDefault("sessionSecret", "")
	viper.SetDefault("sessionTTL", "12h")

	viper.SetConfigName("updepot")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/updepot/")
}

type Config struct {
	DataDir       string        // Root of all project storage and registry files
	DatabasePath  string        // Location of the download log database
	GeoEndpoint   string        // Base URL of the IP geolocation service
	GeoLookup     bool          // Annotate download log entries with geolocation
	GeoTimeout    time.Duration // Hard deadline on a geolocation lookup
	ListenAddress string        // Where the server will listen
	LogLevel      string        // Minimum log level
	MaxUploadSize int64         // Maximum accepted artifact size
	PublicBaseURL string        // External base URL; derived from requests when empty
	SessionSecret string        // HMAC secret for panel session tokens
	SessionTTL    time.Duration // Panel session lifetime

	database  *Database
	projects  *ProjectRegistry
	users     *UserRegistry
	store     *registry.Store
	resolver  *registry.Resolver
	publisher *registry.Publisher
	logger    *zap.Logger
	logRing   *LogRing
	geo       *GeoClient
}

// WriteNewConfig creates a new config with default values and writes
// it to a file at path
func WriteNewConfig(path string) error {
	if err := viper.WriteConfigAs(path); err != nil {
		return fmt.Errorf("WriteNewConfig: %w", err)
	}

	return nil
}

func SetExplicitConfigFile(path string) {
	viper.SetConfigFile(path)
}

// ReadAndInitializeConfig reads the config and does everything required to
// use it: creating the data directories, building the logger, opening and
// migrating the download log database, and loading the project and user
// registries.
func ReadAndInitializeConfig() (Config, error) {
	var config Config
	if err := viper.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("ReadAndInitializeConfig read in: %w", err)
	}

	sessionTTL, err := time.ParseDuration(viper.GetString("sessionTTL"))
	if err != nil {
		return Config{}, fmt.Errorf("ReadAndInitializeConfig parse session ttl: %w", err)
	}

	geoTimeout, err := time.ParseDuration(viper.GetString("geoTimeout"))
	if err != nil {
		return Config{}, fmt.Errorf("ReadAndInitializeConfig parse geo timeout: %w", err)
	}

	config.DataDir = viper.GetString("dataDir")
	config.DatabasePath = viper.GetString("databasePath")
	config.GeoEndpoint = viper.GetString("geoEndpoint")
	config.GeoLookup = viper.GetBool("geoLookup")
	config.GeoTimeout = geoTimeout
	config.ListenAddress = viper.GetString("listenAddress")
	config.LogLevel = viper.GetString("logLevel")
	config.MaxUploadSize = viper.GetInt64("maxUploadSize")
	config.PublicBaseURL = viper.GetString("publicBaseUrl")
	config.SessionSecret = viper.GetString("sessionSecret")
	config.SessionTTL = sessionTTL

	if err := os.MkdirAll(config.DataDir, os.ModePerm); err != nil {
		return Config{}, fmt.Errorf("ReadAndInitializeConfig create data dir: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(config.DatabasePath), os.ModePerm); err != nil {
		return Config{}, fmt.Errorf("ReadAndInitializeConfig create db path: %w", err)
	}

	config.logRing = NewLogRing(LogRingSize)
	logger, err := NewLogger(config.LogLevel, config.logRing)
	if err != nil {
		return Config{}, fmt.Errorf("ReadAndInitializeConfig build logger: %w", err)
	}
	config.logger = logger

	if config.SessionSecret == "" {
		// Sessions die with the process when no secret is configured.
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return Config{}, fmt.Errorf("ReadAndInitializeConfig generate session secret: %w", err)
		}
		config.SessionSecret = hex.EncodeToString(secret)
		logger.Warn("no sessionSecret configured, generated an ephemeral one; panel logins will not survive restarts")
	}

	db, err := NewDatabase(config.DatabasePath)
	if err != nil {
		return Config{}, fmt.Errorf("ReadAndInitializeConfig open db: %w", err)
	}
	config.database = db

	projects, err := NewProjectRegistry(filepath.Join(config.DataDir, "projects.json"), logger)
	if err != nil {
		return Config{}, fmt.Errorf("ReadAndInitializeConfig load projects: %w", err)
	}
	config.projects = projects

	users, err := NewUserRegistry(filepath.Join(config.DataDir, "users.json"), logger)
	if err != nil {
		return Config{}, fmt.Errorf("ReadAndInitializeConfig load users: %w", err)
	}
	config.users = users

	config.store = registry.NewStore(config.DataDir, logger)
	config.resolver = registry.NewResolver(config.store, logger)
	config.publisher = registry.NewPublisher(config.store, logger)
	config.geo = NewGeoClient(config.GeoEndpoint, config.GeoTimeout, logger)

	return config, nil
}
