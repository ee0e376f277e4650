package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg, err := Parse(v)
	require.NoError(t, err)
	assert.Equal(t, "8083", cfg.Server.Port)
	assert.Equal(t, "ephemeral.feed", cfg.AMQP.FeedExchange)
	assert.Equal(t, 120*time.Second, cfg.Lifecycle.DefaultTTL)
	assert.Equal(t, 24*time.Hour, cfg.Lifecycle.MaxTTL)
	assert.Equal(t, 500, cfg.Sweep.BatchSize)
	assert.True(t, cfg.Log.Development)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("EPHEMERAL_SERVER_PORT", "9090")
	t.Setenv("EPHEMERAL_LIFECYCLE_DEFAULTTTL", "30s")
	t.Setenv("EPHEMERAL_REDIS_ADDR", "localhost:6379")

	cfg, err := Load("does-not-exist")
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Lifecycle.DefaultTTL)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestParseRejectsBadBounds(t *testing.T) {
	cases := map[string]func(v *viper.Viper){
		"max below min":     func(v *viper.Viper) { v.Set("lifecycle.maxttl", 500*time.Millisecond) },
		"default above max": func(v *viper.Viper) { v.Set("lifecycle.defaultttl", 48*time.Hour) },
		"zero sweep":        func(v *viper.Viper) { v.Set("sweep.interval", 0) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			v := viper.New()
			setDefaults(v)
			mutate(v)
			_, err := Parse(v)
			assert.Error(t, err)
		})
	}
}
