package config

import (
	"errors"
	"fmt"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	"os"
	"strconv"
	"time"
)

type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	AllowedOrigins  []string `yaml:"allowedOrigins"`
	UploadDir       string   `yaml:"uploadDir"`
	MaxUploadMB     int64    `yaml:"maxUploadMB"`
	SecureCookies   bool     `yaml:"secureCookies"`
	ShutdownSeconds int      `yaml:"shutdownTimeoutSeconds"`
}

type DatabaseConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Database string `yaml:"database"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	Database int    `yaml:"database"`
}

// JWTConfig signs with RS256 when both key paths are set, otherwise with
// Secret (HS256).
type JWTConfig struct {
	PrivateKeyPath string `yaml:"privateKeyPath"`
	PublicKeyPath  string `yaml:"publicKeyPath"`
	Secret         string `yaml:"secret"`
	TTLHours       int    `yaml:"ttlHours"`
}

type ShopConfig struct {
	Currency              string  `yaml:"currency"`
	ShippingFee           int64   `yaml:"shippingFee"`
	FreeShippingThreshold int64   `yaml:"freeShippingThreshold"`
	TaxRate               float64 `yaml:"taxRate"`
	LowStockThreshold     int     `yaml:"lowStockThreshold"`
}

type StripeConfig struct {
	SecretKey      string `yaml:"secretKey"`
	PublishableKey string `yaml:"publishableKey"`
	WebhookSecret  string `yaml:"webhookSecret"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	// ResetURL is the storefront page the reset token is appended to.
	ResetURL string `yaml:"resetURL"`
}

type AuditConfig struct {
	MongoURI   string `yaml:"mongoURI"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type RateLimitConfig struct {
	PerMinute int `yaml:"perMinute"`
	Burst     int `yaml:"burst"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	JWT       JWTConfig       `yaml:"jwt"`
	Shop      ShopConfig      `yaml:"shop"`
	Stripe    StripeConfig    `yaml:"stripe"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Audit     AuditConfig     `yaml:"audit"`
	Log       LogConfig       `yaml:"log"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
}

func LoadConfig(filename string) (Config, error) {
	// a missing .env is fine, the process environment is used as is
	_ = godotenv.Load()

	var config Config
	file, err := os.Open(filename)
	if err != nil {
		return config, err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&config); err != nil {
		return config, err
	}

	config.applyEnv()
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return config, err
	}

	return config, nil
}

func (c *Config) applyEnv() {
	overrides := []struct {
		env    string
		target *string
	}{
		{"DB_HOST", &c.Database.Host},
		{"DB_PORT", &c.Database.Port},
		{"DB_USER", &c.Database.Username},
		{"DB_PASSWORD", &c.Database.Password},
		{"DB_NAME", &c.Database.Database},
		{"REDIS_ADDR", &c.Redis.Addr},
		{"REDIS_PASSWORD", &c.Redis.Password},
		{"JWT_SECRET", &c.JWT.Secret},
		{"STRIPE_SECRET_KEY", &c.Stripe.SecretKey},
		{"STRIPE_PUBLISHABLE_KEY", &c.Stripe.PublishableKey},
		{"STRIPE_WEBHOOK_SECRET", &c.Stripe.WebhookSecret},
		{"SMTP_PASSWORD", &c.SMTP.Password},
		{"AUDIT_MONGO_URI", &c.Audit.MongoURI},
		{"LOG_LEVEL", &c.Log.Level},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.env); ok {
			*o.target = v
		}
	}

	if port, ok := os.LookupEnv("PORT"); ok {
		c.Server.Addr = ":" + port
	}
	if v, ok := os.LookupEnv("TAX_RATE"); ok {
		if rate, err := strconv.ParseFloat(v, 64); err == nil {
			c.Shop.TaxRate = rate
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":3000"
	}
	if c.Server.UploadDir == "" {
		c.Server.UploadDir = "./uploads"
	}
	if c.Server.MaxUploadMB == 0 {
		c.Server.MaxUploadMB = 5
	}
	if c.Server.ShutdownSeconds == 0 {
		c.Server.ShutdownSeconds = 10
	}
	if c.JWT.TTLHours == 0 {
		c.JWT.TTLHours = 24
	}
	if c.Shop.Currency == "" {
		c.Shop.Currency = "usd"
	}
	if c.Shop.LowStockThreshold == 0 {
		c.Shop.LowStockThreshold = 5
	}
	if c.Audit.Database == "" {
		c.Audit.Database = "bookmart"
	}
	if c.Audit.Collection == "" {
		c.Audit.Collection = "audit_logs"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.RateLimit.PerMinute == 0 {
		c.RateLimit.PerMinute = 20
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 5
	}
}

func (c *Config) Validate() error {
	hasKeys := c.JWT.PrivateKeyPath != "" && c.JWT.PublicKeyPath != ""
	if !hasKeys && c.JWT.Secret == "" {
		return errors.New("config: jwt requires either key files or a secret")
	}
	if c.JWT.TTLHours < 0 {
		return fmt.Errorf("config: invalid jwt ttlHours %d", c.JWT.TTLHours)
	}
	if c.Shop.TaxRate < 0 {
		return fmt.Errorf("config: invalid shop taxRate %v", c.Shop.TaxRate)
	}
	if c.Shop.ShippingFee < 0 || c.Shop.FreeShippingThreshold < 0 {
		return errors.New("config: shipping amounts must not be negative")
	}
	return nil
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.JWT.TTLHours) * time.Hour
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownSeconds) * time.Second
}

func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.Database.Username,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}
