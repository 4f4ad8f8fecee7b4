package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Display  DisplayConfig  `json:"display"`
	Rotation RotationConfig `json:"rotation"`
	Google   GoogleConfig   `json:"google"`
	Telegram TelegramConfig `json:"telegram"`
	Log      LogConfig      `json:"log"`
}

// ServerConfig contains the configuration web server settings
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `json:"path"`
}

// DisplayConfig contains panel driver settings
type DisplayConfig struct {
	Driver     string `json:"driver"` // "inky" or "png"
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	SPIPort    string `json:"spi_port"`
	DCPin      string `json:"dc_pin"`
	ResetPin   string `json:"reset_pin"`
	BusyPin    string `json:"busy_pin"`
	OutputPath string `json:"output_path"` // png driver only
}

// RotationConfig contains photo rotation settings
type RotationConfig struct {
	IntervalMinutes int `json:"interval_minutes"`
	HistoryWindow   int `json:"history_window"`
	PageSize        int `json:"page_size"`
	MaxSkips        int `json:"max_skips"`
}

// GoogleConfig contains OAuth client settings for the photo library
type GoogleConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// TelegramConfig contains optional owner-notification settings
type TelegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   int64  `json:"chat_id"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Validate validates the configuration and fills defaults
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: invalid server port", ErrInvalidConfig)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("%w: database path is required", ErrInvalidConfig)
	}

	if c.Google.ClientID == "" || c.Google.ClientSecret == "" {
		return fmt.Errorf("%w: Google OAuth client credentials are required", ErrInvalidConfig)
	}

	if c.Display.Driver == "" {
		c.Display.Driver = "inky"
	}
	if c.Display.Driver != "inky" && c.Display.Driver != "png" {
		return fmt.Errorf("%w: unknown display driver %q", ErrInvalidConfig, c.Display.Driver)
	}
	if c.Display.Width <= 0 {
		c.Display.Width = 600 // Inky Impression 5.7"
	}
	if c.Display.Height <= 0 {
		c.Display.Height = 448
	}

	if c.Rotation.IntervalMinutes < 0 {
		return fmt.Errorf("%w: rotation interval must not be negative", ErrInvalidConfig)
	}
	if c.Rotation.IntervalMinutes == 0 {
		c.Rotation.IntervalMinutes = 60
	}
	if c.Rotation.HistoryWindow == 0 {
		c.Rotation.HistoryWindow = 24
	}
	if c.Rotation.PageSize == 0 {
		c.Rotation.PageSize = 25
	}
	if c.Rotation.MaxSkips == 0 {
		c.Rotation.MaxSkips = 3
	}

	return nil
}

// Load loads configuration from a JSON file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigFileNotFound
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadFromEnv loads configuration from environment variables
// This is useful when no config file is shipped with the image
func LoadFromEnv() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host: getEnv("FRAME_HOST", "0.0.0.0"),
			Port: getEnvInt("FRAME_PORT", 5000),
		},
		Database: DatabaseConfig{
			Path: getEnv("FRAME_DB_PATH", "./inkframe.db"),
		},
		Display: DisplayConfig{
			Driver:     getEnv("FRAME_DISPLAY_DRIVER", "inky"),
			Width:      getEnvInt("FRAME_DISPLAY_WIDTH", 600),
			Height:     getEnvInt("FRAME_DISPLAY_HEIGHT", 448),
			SPIPort:    getEnv("FRAME_SPI_PORT", ""),
			DCPin:      getEnv("FRAME_DC_PIN", "GPIO22"),
			ResetPin:   getEnv("FRAME_RESET_PIN", "GPIO27"),
			BusyPin:    getEnv("FRAME_BUSY_PIN", "GPIO17"),
			OutputPath: getEnv("FRAME_OUTPUT_PATH", "./latest_display.png"),
		},
		Rotation: RotationConfig{
			IntervalMinutes: getEnvInt("FRAME_INTERVAL_MINUTES", 60),
			HistoryWindow:   getEnvInt("FRAME_HISTORY_WINDOW", 24),
			PageSize:        getEnvInt("FRAME_PAGE_SIZE", 25),
			MaxSkips:        getEnvInt("FRAME_MAX_SKIPS", 3),
		},
		Google: GoogleConfig{
			ClientID:     getEnv("FRAME_GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("FRAME_GOOGLE_CLIENT_SECRET", ""),
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("FRAME_TELEGRAM_TOKEN", ""),
			ChatID:   getEnvInt64("FRAME_TELEGRAM_CHAT_ID", 0),
		},
		Log: LogConfig{
			Level:  getEnv("FRAME_LOG_LEVEL", "info"),
			Format: getEnv("FRAME_LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		fmt.Sscanf(value, "%d", &intVal)
		return intVal
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		var intVal int64
		fmt.Sscanf(value, "%d", &intVal)
		return intVal
	}
	return defaultValue
}
