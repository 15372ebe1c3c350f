package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var v = viper.New()

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBName         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConn     int           `mapstructure:"MAX_OPEN_CONN"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Webhook struct {
		// Pre-shared secret for the OCR completion webhook HMAC.
		Secret        string        `mapstructure:"SECRET"`
		RateLimit     float64       `mapstructure:"RATE_LIMIT"`
		RateBurst     int           `mapstructure:"RATE_BURST"`
		BucketMaxIdle time.Duration `mapstructure:"BUCKET_MAX_IDLE"`
	} `mapstructure:"WEBHOOK"`
	Dispatcher struct {
		BatchSize    int           `mapstructure:"BATCH_SIZE"`
		MaxAttempts  int           `mapstructure:"MAX_ATTEMPTS"`
		Interval     time.Duration `mapstructure:"INTERVAL"`
		StuckTimeout time.Duration `mapstructure:"STUCK_TIMEOUT"`
		ExecTimeout  time.Duration `mapstructure:"EXEC_TIMEOUT"`
		Concurrency  int           `mapstructure:"CONCURRENCY"`
	} `mapstructure:"DISPATCHER"`
	Rewards struct {
		SignupBonusPoints    int64 `mapstructure:"SIGNUP_BONUS_POINTS"`
		SignupBonusCredits   int64 `mapstructure:"SIGNUP_BONUS_CREDITS"`
		ReferralBonusCredits int64 `mapstructure:"REFERRAL_BONUS_CREDITS"`
		// Points issued per 100 minor units of receipt total, before multiplier.
		PointsPerUnit int64 `mapstructure:"POINTS_PER_UNIT"`
	} `mapstructure:"REWARDS"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func LoadConfig() *Config {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			zap.L().Error("failed to read config file", zap.Error(err))
			os.Exit(1)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "rewardcore")

	v.SetDefault("HTTP_SERVER.ADDR", ":8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)

	v.SetDefault("WEBHOOK.RATE_LIMIT", 20.0)
	v.SetDefault("WEBHOOK.RATE_BURST", 20)
	v.SetDefault("WEBHOOK.BUCKET_MAX_IDLE", 10*time.Minute)

	v.SetDefault("DISPATCHER.BATCH_SIZE", 50)
	v.SetDefault("DISPATCHER.MAX_ATTEMPTS", 5)
	v.SetDefault("DISPATCHER.INTERVAL", 60*time.Second)
	v.SetDefault("DISPATCHER.STUCK_TIMEOUT", 15*time.Minute)
	v.SetDefault("DISPATCHER.EXEC_TIMEOUT", 30*time.Second)
	v.SetDefault("DISPATCHER.CONCURRENCY", 4)

	v.SetDefault("REWARDS.SIGNUP_BONUS_POINTS", 100)
	v.SetDefault("REWARDS.SIGNUP_BONUS_CREDITS", 10)
	v.SetDefault("REWARDS.REFERRAL_BONUS_CREDITS", 25)
	v.SetDefault("REWARDS.POINTS_PER_UNIT", 1)
}
