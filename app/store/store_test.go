package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"rigforge/app/config"
	"rigforge/app/database"
	"rigforge/app/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "store.db")})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func newJob(userID string) *model.ProcessingJob {
	return &model.ProcessingJob{
		CharacterID: uuid.NewString(),
		AnimationID: uuid.NewString(),
		UserID:      userID,
		Status:      model.JobStatusPending,
		Settings:    model.DefaultSettings(),
	}
}

func TestAssetVisibility(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	assets := NewAssetStore(db)

	owner, other := uuid.NewString(), uuid.NewString()
	public := model.Character{Name: "Kaya", IsPublic: true, UploadedBy: owner}
	private := model.Character{Name: "Secret", UploadedBy: owner}
	require.NoError(t, db.Create(&public).Error)
	require.NoError(t, db.Create(&private).Error)
	anim := model.Animation{Name: "Idle", UploadedBy: owner}
	require.NoError(t, db.Create(&anim).Error)

	_, err := assets.FindAccessibleCharacter(ctx, public.ID, other)
	assert.NoError(t, err)

	got, err := assets.FindAccessibleCharacter(ctx, private.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, "Secret", got.Name)

	_, err = assets.FindAccessibleCharacter(ctx, private.ID, other)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = assets.FindAccessibleAnimation(ctx, anim.ID, other)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = assets.FindAccessibleAnimation(ctx, uuid.NewString(), owner)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaimOrderAndLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	jobs := NewJobStore(db)
	user := uuid.NewString()

	first := newJob(user)
	require.NoError(t, jobs.Create(ctx, first))
	time.Sleep(5 * time.Millisecond)
	second := newJob(user)
	require.NoError(t, jobs.Create(ctx, second))

	claimed, err := jobs.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, claimed.ID)
	assert.Equal(t, model.JobStatusProcessing, claimed.Status)
	assert.Equal(t, model.ProgressStarted, claimed.Progress)

	status, err := jobs.UpdateProgress(ctx, first.ID, 50)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, status)

	// 进度不回退
	_, err = jobs.UpdateProgress(ctx, first.ID, 30)
	require.NoError(t, err)
	got, err := jobs.FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.Progress)

	require.NoError(t, jobs.Complete(ctx, first.ID, "processed/x.zip"))
	got, err = jobs.FindByIDAndOwner(ctx, first.ID, user)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	require.NotNil(t, got.ResultFile)
	assert.Nil(t, got.Error)
	assert.NotNil(t, got.CompletedAt)

	// 终态不可再变更
	assert.ErrorIs(t, jobs.Fail(ctx, first.ID, "late"), ErrStaleTransition)
	assert.ErrorIs(t, jobs.Complete(ctx, first.ID, "again"), ErrStaleTransition)
	_, err = jobs.UpdateProgress(ctx, first.ID, 99)
	require.NoError(t, err)
	got, err = jobs.FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "processed/x.zip", *got.ResultFile)

	claimed, err = jobs.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, claimed.ID)

	_, err = jobs.ClaimNext(ctx, "w1")
	assert.ErrorIs(t, err, ErrNoPendingJob)
}

func TestOwnerScoping(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	jobs := NewJobStore(db)

	job := newJob(uuid.NewString())
	require.NoError(t, jobs.Create(ctx, job))

	_, err := jobs.FindByIDAndOwner(ctx, job.ID, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = jobs.FindByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentClaimsAreExclusive(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	jobs := NewJobStore(db)
	user := uuid.NewString()

	const total = 8
	for i := 0; i < total; i++ {
		require.NoError(t, jobs.Create(ctx, newJob(user)))
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			for {
				job, err := jobs.ClaimNext(ctx, worker)
				if err == ErrNoPendingJob {
					return
				}
				if err == ErrClaimConflict {
					continue
				}
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				seen[job.ID]++
				mu.Unlock()
			}
		}(uuid.NewString())
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}

func TestCancelTransitions(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	jobs := NewJobStore(db)
	user := uuid.NewString()

	pending := newJob(user)
	require.NoError(t, jobs.Create(ctx, pending))
	require.NoError(t, jobs.CancelPending(ctx, pending.ID, "job cancelled by user"))
	got, err := jobs.FindByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "job cancelled by user", *got.Error)
	assert.Equal(t, 0, got.Progress)

	running := newJob(user)
	require.NoError(t, jobs.Create(ctx, running))
	_, err = jobs.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	assert.ErrorIs(t, jobs.CancelPending(ctx, running.ID, "x"), ErrStaleTransition)
	require.NoError(t, jobs.MarkCancelling(ctx, running.ID))

	status, err := jobs.Heartbeat(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelling, status)

	// cancelling 时不再接受进度
	status, err = jobs.UpdateProgress(ctx, running.ID, 60)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelling, status)
	assert.ErrorIs(t, jobs.Complete(ctx, running.ID, "r"), ErrStaleTransition)

	require.NoError(t, jobs.Fail(ctx, running.ID, "job cancelled by user"))
	got, err = jobs.FindByID(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, model.ProgressStarted, got.Progress)
	assert.Nil(t, got.ResultFile)
}

func TestFailStale(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	jobs := NewJobStore(db)
	user := uuid.NewString()

	base := time.Now()
	jobs.now = func() time.Time { return base.Add(-10 * time.Minute) }

	stale := newJob(user)
	require.NoError(t, jobs.Create(ctx, stale))
	_, err := jobs.ClaimNext(ctx, "dead-worker")
	require.NoError(t, err)

	jobs.now = func() time.Time { return base }
	fresh := newJob(user)
	require.NoError(t, jobs.Create(ctx, fresh))
	_, err = jobs.ClaimNext(ctx, "live-worker")
	require.NoError(t, err)

	waiting := newJob(user)
	require.NoError(t, jobs.Create(ctx, waiting))

	n, err := jobs.FailStale(ctx, base.Add(-time.Minute), "processing timed out: worker heartbeat lost")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := jobs.FindByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)

	got, err = jobs.FindByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, got.Status)

	got, err = jobs.FindByID(ctx, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, got.Status)

	counts, err := jobs.CountByStatus(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts[model.JobStatusFailed])
	assert.EqualValues(t, 1, counts[model.JobStatusProcessing])
	assert.EqualValues(t, 1, counts[model.JobStatusPending])
	assert.EqualValues(t, 0, counts[model.JobStatusCompleted])
}

func TestListByOwner(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	jobs := NewJobStore(db)
	user := uuid.NewString()

	for i := 0; i < 3; i++ {
		require.NoError(t, jobs.Create(ctx, newJob(user)))
	}
	require.NoError(t, jobs.Create(ctx, newJob(uuid.NewString())))
	_, err := jobs.ClaimNext(ctx, "w")
	require.NoError(t, err)

	list, total, err := jobs.ListByOwner(ctx, ListFilter{UserID: user, Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, list, 2)

	_, total, err = jobs.ListByOwner(ctx, ListFilter{UserID: user, Status: model.JobStatusPending, Limit: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
}

func TestHeartbeatRefreshesTimestamps(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	jobs := NewJobStore(db)

	job := newJob(uuid.NewString())
	require.NoError(t, jobs.Create(ctx, job))
	claimed, err := jobs.ClaimNext(ctx, "w1")
	require.NoError(t, err)

	later := claimed.UpdatedAt.Add(30 * time.Second)
	jobs.now = func() time.Time { return later }

	status, err := jobs.Heartbeat(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, status)

	got, err := jobs.FindByID(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.HeartbeatAt)
	assert.True(t, got.HeartbeatAt.Equal(later), "heartbeat_at %v", got.HeartbeatAt)
	assert.True(t, got.UpdatedAt.Equal(later), "updated_at %v", got.UpdatedAt)

	// 终态之后心跳不再写入
	require.NoError(t, jobs.Complete(ctx, job.ID, "processed/r.zip"))
	done, err := jobs.FindByID(ctx, job.ID)
	require.NoError(t, err)
	jobs.now = func() time.Time { return later.Add(time.Minute) }
	status, err = jobs.Heartbeat(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, status)
	got, err = jobs.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(done.UpdatedAt))
}
