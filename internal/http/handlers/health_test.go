package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/audex/internal/engine"
	"github.com/jmylchreest/audex/internal/extract"
)

type stubEngine struct {
	supportErr error
}

func (stubEngine) PreloadEngine(context.Context) error  { return nil }
func (stubEngine) IsEngineLoaded() bool                 { return true }
func (s stubEngine) CheckSupport(context.Context) error { return s.supportErr }
func (stubEngine) Policy() extract.Policy               { return extract.DefaultPolicy() }
func (stubEngine) QueueDepth() int                      { return 3 }
func (stubEngine) Busy() bool                           { return true }

type stubLoader struct{}

func (stubLoader) State() engine.State { return engine.StateReady }
func (stubLoader) Mirror() string      { return "https://mirror.example" }

func TestHealthHandler_GetHealth(t *testing.T) {
	handler := NewHealthHandler("1.0.0")

	output, err := handler.GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)
	require.NotNil(t, output)

	assert.Equal(t, "healthy", output.Body.Status)
	assert.Equal(t, "1.0.0", output.Body.Version)
	assert.NotEmpty(t, output.Body.Uptime)
	assert.NotZero(t, output.Body.CPUInfo.Cores)
	assert.Equal(t, "not_configured", output.Body.Components.Database.Status)
	assert.Equal(t, "not_configured", output.Body.Components.Engine.Status)
}

func TestHealthHandler_WithDatabaseAndEngine(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	handler := NewHealthHandler("1.0.0").WithDB(db).WithEngine(stubEngine{}, stubLoader{})
	output, err := handler.GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)

	assert.Equal(t, "healthy", output.Body.Status)
	assert.Equal(t, "ok", output.Body.Checks["database"])
	assert.Equal(t, "ok", output.Body.Checks["engine"])

	eng := output.Body.Components.Engine
	assert.True(t, eng.Loaded)
	assert.True(t, eng.Busy)
	assert.Equal(t, 3, eng.QueueDepth)
	assert.Equal(t, "ready", eng.State)
	assert.Equal(t, "https://mirror.example", eng.Mirror)
	assert.Equal(t, "healthy", output.Body.Components.Database.ResponseTimeStatus)
	assert.GreaterOrEqual(t, output.Body.Memory.ProcessMemory.TotalMB, output.Body.Memory.ProcessMemory.ServerMB)
}

func TestHealthHandler_Degraded(t *testing.T) {
	handler := NewHealthHandler("1.0.0").WithEngine(stubEngine{supportErr: errors.New("low memory")}, nil)
	output, err := handler.GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)

	assert.Equal(t, "degraded", output.Body.Status)
	assert.Equal(t, "unsupported", output.Body.Components.Engine.Status)
	assert.Equal(t, "low memory", output.Body.Components.Engine.Reason)
	assert.Empty(t, output.Body.Components.Engine.State)
}

func TestHealthHandler_ClosedDatabase(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	output, err := NewHealthHandler("1.0.0").WithDB(db).GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)
	assert.Equal(t, "unhealthy", output.Body.Status)
	assert.Equal(t, "error", output.Body.Components.Database.Status)
}
