package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr         string          `yaml:"addr"`
	DatabasePath string          `yaml:"database_path"`
	APITimeout   time.Duration   `yaml:"timeout"`
	Scheduler    SchedulerConfig `yaml:"scheduler"`
	Mail         MailConfig      `yaml:"mail"`
	Notify       NotifyConfig    `yaml:"notify"`
}

type SchedulerConfig struct {
	// CronSpec follows robfig/cron syntax, e.g. "@hourly" or "0 8 * * *".
	CronSpec string `yaml:"cron"`
	Disabled bool   `yaml:"disabled"`
}

type MailConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	User          string        `yaml:"user"`
	Password      string        `yaml:"password"`
	SenderAddress string        `yaml:"sender_address"`
	SenderName    string        `yaml:"sender_name"`
	Timeout       time.Duration `yaml:"timeout"`
}

type NotifyConfig struct {
	// Recipients is the back-office inbox list expiry alerts go to.
	Recipients  []string `yaml:"recipients"`
	MaxAttempts int      `yaml:"max_attempts"`
}

func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		Addr:         getEnv("BACKOFFICE_ADDR", ":8080"),
		DatabasePath: getEnv("BACKOFFICE_DATABASE_PATH", "backoffice.db"),
		APITimeout:   15 * time.Second,
		Scheduler: SchedulerConfig{
			CronSpec: getEnv("BACKOFFICE_SCHEDULER_CRON", "@hourly"),
		},
		Mail: MailConfig{
			Host:          getEnv("BACKOFFICE_SMTP_HOST", "localhost"),
			Port:          getEnvInt("BACKOFFICE_SMTP_PORT", 587),
			User:          getEnv("BACKOFFICE_SMTP_USER", ""),
			Password:      getEnv("BACKOFFICE_SMTP_PASSWORD", ""),
			SenderAddress: getEnv("BACKOFFICE_SMTP_SENDER", "noreply@fleetyard.local"),
			SenderName:    getEnv("BACKOFFICE_SMTP_SENDER_NAME", "Fleetyard Back Office"),
			Timeout:       10 * time.Second,
		},
		Notify: NotifyConfig{
			MaxAttempts: 3,
		},
	}
	if v := getEnv("BACKOFFICE_NOTIFY_RECIPIENT", ""); v != "" {
		cfg.Notify.Recipients = []string{v}
	}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		if err := dec.Decode(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.Notify.MaxAttempts <= 0 {
		cfg.Notify.MaxAttempts = 3
	}
	if cfg.Scheduler.CronSpec == "" {
		cfg.Scheduler.CronSpec = "@hourly"
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}

	return def
}
