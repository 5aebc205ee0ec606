package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "Europe/Moscow", cfg.Timezone)
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, "gpt-4.1-mini", cfg.OpenAI.Model)
	assert.Equal(t, "09:10", cfg.Sending.WindowStart)
	assert.Equal(t, "19:45", cfg.Sending.WindowEnd)
	assert.Equal(t, 540, cfg.Sending.MinDelaySeconds)
	assert.Equal(t, 960, cfg.Sending.MaxDelaySeconds)
	assert.Equal(t, 168, cfg.Routing.MXCacheTTLHours)
	assert.Equal(t, []string{".ru", ".su"}, cfg.Routing.RUTLDs)
	assert.Equal(t, 6, cfg.QueryGen.MaxQueriesPerNiche)
	assert.Equal(t, 45, cfg.QueryGen.SpacingSeconds)
	assert.Equal(t, 225, cfg.QueryGen.RegionFallback)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("APP_TIMEZONE", "Europe/Samara")
	t.Setenv("POSTGRES_HOST", "pg.internal")
	t.Setenv("POSTGRES_PORT", "6432")
	t.Setenv("EMAIL_SENDING_ENABLED", "false")
	t.Setenv("YANDEX_ENFORCE_NIGHT_WINDOW", "0")
	t.Setenv("ROUTING_ENABLED", "true")
	t.Setenv("ROUTING_DNS_RESOLVERS", "77.88.8.8, 8.8.8.8")
	t.Setenv("ROUTING_FORCE_RU_DOMAINS", "mail.ru,yandex.ru")
	t.Setenv("GMAIL_SMTP_HOST", "smtp.gmail.com")
	t.Setenv("GMAIL_FROM_EMAIL", "outreach@example.com")

	cfg, err := LoadFromEnv("")
	require.NoError(t, err)

	assert.Equal(t, "Europe/Samara", cfg.Timezone)
	assert.Equal(t, "pg.internal", cfg.Postgres.Host)
	assert.Equal(t, 6432, cfg.Postgres.Port)
	assert.False(t, cfg.Sending.Enabled)
	assert.False(t, cfg.Yandex.EnforceNightWindow)
	assert.True(t, cfg.Routing.Enabled)
	assert.Equal(t, []string{"77.88.8.8", "8.8.8.8"}, cfg.Routing.DNSResolvers)
	assert.Equal(t, []string{"mail.ru", "yandex.ru"}, cfg.Routing.ForceRUDomains)
	assert.True(t, cfg.Gmail.Configured())
	assert.Equal(t, "outreach@example.com", cfg.Gmail.FromAddress())
}

func TestYandexValidate(t *testing.T) {
	var y YandexConfig
	assert.ErrorIs(t, y.Validate(), ErrMissingYandexAuth)

	y.IAMToken = "t1.token"
	assert.NoError(t, y.Validate())
}

func TestPostgresDSN(t *testing.T) {
	c := PostgresConfig{Host: "db", Port: 5432, User: "leadgen", Password: "pw", Database: "leadgen", SSLMode: "disable"}
	assert.Equal(t, "postgres://leadgen:pw@db:5432/leadgen?sslmode=disable", c.DSN())
}

func TestGetCachesAndReset(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	t.Setenv("APP_TIMEZONE", "Asia/Yekaterinburg")
	first, err := Get()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Yekaterinburg", first.Timezone)

	// The cache must survive later env changes until Reset.
	t.Setenv("APP_TIMEZONE", "Europe/Moscow")
	second, err := Get()
	require.NoError(t, err)
	assert.Same(t, first, second)

	Reset()
	third, err := Get()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Moscow", third.Timezone)
}
