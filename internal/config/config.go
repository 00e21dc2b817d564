package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	// memory | postgres
	StoreBackend  string `env:"STORE_BACKEND" envDefault:"memory"`
	PostgresDSN   string `env:"POSTGRES_DSN"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`

	// memory | redis
	QueueBackend  string `env:"QUEUE_BACKEND" envDefault:"memory"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	QueueName     string `env:"QUEUE_NAME" envDefault:"downloads"`
	QueueCapacity int    `env:"QUEUE_CAPACITY" envDefault:"1024"`

	WorkerCount  int           `env:"WORKER_COUNT" envDefault:"2"`
	FetchTimeout time.Duration `env:"FETCH_TIMEOUT" envDefault:"1h"`

	ScratchDir string `env:"SCRATCH_DIR" envDefault:"/tmp/fetchd-scratch"`
	StorageDir string `env:"STORAGE_DIR" envDefault:"persistent_storage"`

	YtDlpBin     string `env:"YTDLP_BIN" envDefault:"yt-dlp"`
	GalleryDlBin string `env:"GALLERYDL_BIN" envDefault:"gallery-dl"`
}

func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}
