package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const DefaultGlamourStyle = "dark"

type AppConfig struct {
	ServerURL    string `mapstructure:"server_url"`
	AuthToken    string `mapstructure:"auth_token"`
	DBPath       string `mapstructure:"db_path"`
	ExportDir    string `mapstructure:"export_dir"`
	LogLevel     string `mapstructure:"log_level"`
	LogFile      string `mapstructure:"log_file"`
	SessionLimit int    `mapstructure:"session_limit"`
	Rebuild      bool   `mapstructure:"-"`
}

func Parse() (AppConfig, error) {
	var (
		configPath string
		cfg        AppConfig
	)

	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.StringVar(&cfg.ServerURL, "server", "", "CKO server base URL")
	flag.StringVar(&cfg.AuthToken, "token", "", "bearer token for the CKO server")
	flag.StringVar(&cfg.DBPath, "db-path", "", "path to the local SQLite cache")
	flag.StringVar(&cfg.ExportDir, "export-dir", "", "override export output directory")
	flag.StringVar(&cfg.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flag.BoolVar(&cfg.Rebuild, "rebuild-cache", false, "discard and rebuild the local cache")
	flag.Parse()

	loaded, err := Load(configPath)
	if err != nil {
		return cfg, err
	}

	// Flags win over file and environment.
	if cfg.ServerURL == "" {
		cfg.ServerURL = loaded.ServerURL
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = loaded.AuthToken
	}
	if cfg.DBPath == "" {
		cfg.DBPath = loaded.DBPath
	}
	if cfg.ExportDir == "" {
		cfg.ExportDir = loaded.ExportDir
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = loaded.LogLevel
	}
	cfg.LogFile = loaded.LogFile
	cfg.SessionLimit = loaded.SessionLimit

	return finalize(cfg)
}

// Load reads the config file and CKO_-prefixed environment variables.
// A missing file is fine; everything has a default.
func Load(explicitPath string) (AppConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CKO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server_url", "http://localhost:8000/api/studio/cko")
	v.SetDefault("log_level", "info")
	v.SetDefault("session_limit", 50)

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		if err := v.ReadInConfig(); err != nil {
			return AppConfig{}, fmt.Errorf("read config %s: %w", explicitPath, err)
		}
	} else if dir, err := defaultConfigDir(); err == nil {
		v.SetConfigName("config")
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return AppConfig{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func finalize(cfg AppConfig) (AppConfig, error) {
	cfg.ServerURL = strings.TrimRight(strings.TrimSpace(cfg.ServerURL), "/")
	if cfg.ServerURL == "" {
		return cfg, fmt.Errorf("server URL must not be empty")
	}
	if cfg.SessionLimit <= 0 {
		cfg.SessionLimit = 50
	}

	stateDir, err := defaultStateDir()
	if err != nil {
		return cfg, err
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(stateDir, "cache.sqlite")
	}
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(stateDir, "cko.log")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return cfg, fmt.Errorf("create cache dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
		return cfg, fmt.Errorf("create log dir: %w", err)
	}
	return cfg, nil
}

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "cko"), nil
}

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "cko"), nil
}
