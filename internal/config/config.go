package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Port        string   `yaml:"port"`
	Mode        string   `yaml:"mode"` // gin mode: debug, release, test
	CORSOrigins []string `yaml:"cors_origins"`
}

type DBConfig struct {
	Driver   string `yaml:"driver"` // postgres or sqlite
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
	Path     string `yaml:"path"` // sqlite file
}

type EscrowConfig struct {
	PlatformFeeRate string `yaml:"platform_fee_rate"`
	AutoConfirm     bool   `yaml:"auto_confirm"`
	WebhookSecret   string `yaml:"webhook_secret"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MQConfig struct {
	URL string `yaml:"url"`
}

type CloudinaryConfig struct {
	CloudName string `yaml:"cloud_name"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Folder    string `yaml:"folder"`
}

type Config struct {
	Env        string           `yaml:"env"`
	Server     ServerConfig     `yaml:"server"`
	DB         DBConfig         `yaml:"db"`
	JWTSecret  string           `yaml:"jwt_secret"`
	Escrow     EscrowConfig     `yaml:"escrow"`
	Redis      RedisConfig      `yaml:"redis"`
	MQ         MQConfig         `yaml:"mq"`
	Cloudinary CloudinaryConfig `yaml:"cloudinary"`
}

// Default returns the development defaults every other source overrides.
func Default() *Config {
	return &Config{
		Env: "development",
		Server: ServerConfig{
			Port:        "8080",
			Mode:        "debug",
			CORSOrigins: []string{"http://localhost:5173", "http://127.0.0.1:5173"},
		},
		DB: DBConfig{
			Driver:   "postgres",
			Host:     "localhost",
			Port:     "5432",
			User:     "postgres",
			Password: "postgres",
			Name:     "postgres",
			SSLMode:  "disable",
			Path:     "marketplace.db",
		},
		Escrow: EscrowConfig{
			PlatformFeeRate: "0.10",
			AutoConfirm:     true,
		},
		Cloudinary: CloudinaryConfig{Folder: "transfer-proofs"},
	}
}

// Load layers configuration: defaults, then configs/.env, then the YAML file at
// path (optional), then process environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load("configs/.env")

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("decode config %s: %w", path, err)
			}
		}
	}

	overrideFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func overrideFromEnv(cfg *Config) {
	setString(&cfg.Env, "APP_ENV")
	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Server.Mode, "GIN_MODE")
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.Server.CORSOrigins = strings.Split(origins, ",")
	}

	setString(&cfg.DB.Driver, "DB_DRIVER")
	setString(&cfg.DB.Host, "DB_HOST")
	setString(&cfg.DB.Port, "DB_PORT")
	setString(&cfg.DB.User, "DB_USER")
	setString(&cfg.DB.Password, "DB_PASSWORD")
	setString(&cfg.DB.Name, "DB_NAME")
	setString(&cfg.DB.SSLMode, "DB_SSLMODE")
	setString(&cfg.DB.Path, "DB_PATH")

	setString(&cfg.JWTSecret, "JWT_SECRET")

	setString(&cfg.Escrow.PlatformFeeRate, "PLATFORM_FEE_RATE")
	if v := os.Getenv("ESCROW_AUTO_CONFIRM"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Escrow.AutoConfirm = b
		}
	}
	setString(&cfg.Escrow.WebhookSecret, "SETTLEMENT_WEBHOOK_SECRET")

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}

	setString(&cfg.MQ.URL, "MQ_URL")

	setString(&cfg.Cloudinary.CloudName, "CLOUDINARY_CLOUD_NAME")
	setString(&cfg.Cloudinary.APIKey, "CLOUDINARY_API_KEY")
	setString(&cfg.Cloudinary.APISecret, "CLOUDINARY_API_SECRET")
	setString(&cfg.Cloudinary.Folder, "CLOUDINARY_FOLDER")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		if c.Server.Mode == "release" {
			return errors.New("JWT_SECRET is required in release mode")
		}
		c.JWTSecret = "default_super_secret_key" // development fallback only
	}

	rate, err := c.FeeRate()
	if err != nil {
		return err
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("platform_fee_rate must be in [0, 1), got %s", rate.String())
	}

	switch c.DB.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported db driver %q", c.DB.Driver)
	}
	return nil
}

// FeeRate parses the platform fee rate.
func (c *Config) FeeRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.Escrow.PlatformFeeRate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid platform_fee_rate: %w", err)
	}
	return rate, nil
}

// DSN builds the connection string for the configured driver.
func (c *Config) DSN() string {
	if c.DB.Driver == "sqlite" {
		return c.DB.Path
	}
	return "postgres://" + c.DB.User + ":" + c.DB.Password + "@" + c.DB.Host + ":" + c.DB.Port + "/" + c.DB.Name + "?sslmode=" + c.DB.SSLMode
}

// CloudinaryEnabled reports whether proof uploads can be stored.
func (c *Config) CloudinaryEnabled() bool {
	return c.Cloudinary.CloudName != "" && c.Cloudinary.APIKey != "" && c.Cloudinary.APISecret != ""
}
