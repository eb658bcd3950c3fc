package redisclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"acquisition-service/pkg/config"
)

func TestBuildOptions_Defaults(t *testing.T) {
	opts := buildOptions(config.RedisConfig{Host: "10.0.0.5", Port: 6380, DB: 2})

	assert.Equal(t, "10.0.0.5:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, defaultDialTimeout, opts.DialTimeout)
	assert.Equal(t, defaultIOTimeout, opts.ReadTimeout)
	assert.Nil(t, opts.TLSConfig)
}

func TestBuildOptions_Overrides(t *testing.T) {
	opts := buildOptions(config.RedisConfig{
		Host:        "redis",
		Port:        6379,
		PoolSize:    8,
		DialTimeout: time.Second,
		EnableTLS:   true,
	})

	assert.Equal(t, 8, opts.PoolSize)
	assert.Equal(t, time.Second, opts.DialTimeout)
	assert.NotNil(t, opts.TLSConfig)
}
