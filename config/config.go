package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Debug                    bool   `envconfig:"debug"`
	Port                     int    `envconfig:"port" default:"8080"`
	Env                      string `envconfig:"env"`
	PostgresHost             string `envconfig:"postgres_host"`
	PostgresUser             string `envconfig:"postgres_user"`
	PostgresDB               string `envconfig:"postgres_db"`
	PostgresPort             int    `envconfig:"postgres_port"`
	PostgresPassword         string `envconfig:"postgres_password"`
	JWTSecret                string `envconfig:"jwt_secret"`
	RedisURL                 string `envconfig:"redis_url"`
	PushTimeoutMillis        int    `envconfig:"push_timeout_millis" default:"500"`
	AccessControlAllowOrigin string `envconfig:"access_control_allow_origin"`
}

// PushTimeout bounds how long a send waits on the realtime channel before
// degrading to offline delivery.
func (c *Config) PushTimeout() time.Duration {
	return time.Duration(c.PushTimeoutMillis) * time.Millisecond
}

func Load() (*Config, error) {
	env := os.Getenv("GIN_MODE")
	if env != "release" {
		if err := godotenv.Load("./.env"); err != nil {
			log.Printf("couldn't load env vars: %v", err)
		}
	}

	c := &Config{}
	err := envconfig.Process("chatcore", c)
	if err != nil {
		return nil, err
	}
	return c, nil
}
