package persistence

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/student-support/internal/config"
)

func TestNewRedisPingsConfiguredServer(t *testing.T) {
	srv := miniredis.RunT(t)
	r := NewRedis(context.Background(), config.RedisConfig{Addr: srv.Addr()}, zap.NewNop())
	t.Cleanup(r.Close)

	assert.True(t, r.Enabled())
	require.NoError(t, r.Ping(context.Background()))

	srv.Close()
	assert.Error(t, r.Ping(context.Background()))
}

func TestNewRedisWithoutAddressIsDisabled(t *testing.T) {
	r := NewRedis(context.Background(), config.RedisConfig{}, zap.NewNop())
	assert.False(t, r.Enabled())
	assert.Error(t, r.Ping(context.Background()))
	r.Close()
}

func TestPostgresWithoutDSNIsDisabled(t *testing.T) {
	pg, err := NewPostgres(context.Background(), config.PostgresConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, pg.Enabled())
	assert.Error(t, pg.Ping(context.Background()))
	assert.NoError(t, RunMigrations(context.Background(), pg.PoolHandle(), zap.NewNop()))
	pg.Close()
}

func TestMigrationsAreBundled(t *testing.T) {
	names := MigrationNames()
	require.Len(t, names, 2)
	assert.Equal(t, "migrations/001_init.sql", names[0])
	assert.Equal(t, "migrations/002_record_seq.sql", names[1])
}
