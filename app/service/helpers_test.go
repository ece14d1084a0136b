package service

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"rigforge/app/auth"
	"rigforge/app/config"
	"rigforge/app/database"
	"rigforge/app/logger"
	"rigforge/app/model"
	"rigforge/app/storage"
	"rigforge/app/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testEnv struct {
	db     *gorm.DB
	jobs   *store.GormJobStore
	assets *store.GormAssetStore
	files  *storage.FileStore
	tokens *auth.JWTService
	log    *logger.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	db, err := database.Open(config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(dir, "service.db")})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	files, err := storage.NewFileStore(filepath.Join(dir, "uploads"))
	require.NoError(t, err)

	return &testEnv{
		db:     db,
		jobs:   store.NewJobStore(db),
		assets: store.NewAssetStore(db),
		files:  files,
		tokens: auth.NewJWTService(&config.Config{JWT: config.JWTConfig{Secret: "test-secret", ExpireTime: 1, Issuer: "rigforge"}}),
		log:    logger.NewNop(),
	}
}

func (env *testEnv) character(t *testing.T, owner string, public bool, file string) *model.Character {
	t.Helper()
	c := &model.Character{Name: "Kaya", Type: "humanoid", ModelFile: file, IsPublic: public, UploadedBy: owner}
	require.NoError(t, env.db.Create(c).Error)
	return c
}

func (env *testEnv) animation(t *testing.T, owner string, public bool, file string) *model.Animation {
	t.Helper()
	a := &model.Animation{Name: "Idle", Category: "idle", Duration: 2.5, AnimationFile: file, IsPublic: public, UploadedBy: owner}
	require.NoError(t, env.db.Create(a).Error)
	return a
}

func (env *testEnv) putFile(t *testing.T, key, content string) {
	t.Helper()
	_, err := storage.WriteBytes(context.Background(), env.files, key, []byte(content))
	require.NoError(t, err)
}

func (env *testEnv) orchestrator(n Notifier) *Orchestrator {
	return NewOrchestrator(env.assets, env.jobs, n, env.tokens, time.Hour, env.log)
}

func (env *testEnv) waitStatus(t *testing.T, id string, statuses ...model.JobStatus) *model.ProcessingJob {
	t.Helper()
	var job *model.ProcessingJob
	require.Eventually(t, func() bool {
		var err error
		job, err = env.jobs.FindByID(context.Background(), id)
		if err != nil {
			return false
		}
		for _, s := range statuses {
			if job.Status == s {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func testProcessingConfig() config.ProcessingConfig {
	return config.ProcessingConfig{
		Workers:           2,
		PollInterval:      20 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
		StaleAfter:        time.Second,
		JobTimeout:        5 * time.Second,
		ShutdownGrace:     time.Second,
	}
}

type countingNotifier struct {
	calls atomic.Int32
}

func (n *countingNotifier) Notify() {
	n.calls.Add(1)
}

// retargeterFunc 用函数实现 Retargeter
type retargeterFunc func(ctx context.Context, in RetargetInput, report ProgressFunc) (string, error)

func (f retargeterFunc) Retarget(ctx context.Context, in RetargetInput, report ProgressFunc) (string, error) {
	return f(ctx, in, report)
}

func newUserID() string {
	return uuid.NewString()
}
