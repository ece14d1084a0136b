package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rigforge/app/model"

	"gorm.io/gorm"
)

// JobStore 处理任务的持久化。所有状态变更都带前置状态条件，
// 终态记录不会被改写，进度只增不减。
type JobStore interface {
	Create(ctx context.Context, job *model.ProcessingJob) error
	FindByID(ctx context.Context, id string) (*model.ProcessingJob, error)
	FindByIDAndOwner(ctx context.Context, id, userID string) (*model.ProcessingJob, error)
	ListByOwner(ctx context.Context, filter ListFilter) ([]model.ProcessingJob, int64, error)
	CountByStatus(ctx context.Context) (map[model.JobStatus]int64, error)

	ClaimNext(ctx context.Context, workerID string) (*model.ProcessingJob, error)
	UpdateProgress(ctx context.Context, id string, progress int) (model.JobStatus, error)
	Heartbeat(ctx context.Context, id string) (model.JobStatus, error)
	Complete(ctx context.Context, id, resultFile string) error
	Fail(ctx context.Context, id, reason string) error
	CancelPending(ctx context.Context, id, reason string) error
	MarkCancelling(ctx context.Context, id string) error
	FailStale(ctx context.Context, cutoff time.Time, reason string) (int64, error)
}

// ListFilter 分页查询条件，Status 为空表示全部
type ListFilter struct {
	UserID string
	Status model.JobStatus
	Offset int
	Limit  int
}

type GormJobStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewJobStore(db *gorm.DB) *GormJobStore {
	return &GormJobStore{db: db, now: time.Now}
}

func statusList(statuses ...model.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (s *GormJobStore) Create(ctx context.Context, job *model.ProcessingJob) error {
	return s.db.WithContext(ctx).Create(job).Error
}

func (s *GormJobStore) FindByID(ctx context.Context, id string) (*model.ProcessingJob, error) {
	var job model.ProcessingJob
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&job).Error; err != nil {
		return nil, translate(err)
	}
	return &job, nil
}

// FindByIDAndOwner 不属于调用者的任务与不存在的任务同样返回 ErrNotFound
func (s *GormJobStore) FindByIDAndOwner(ctx context.Context, id, userID string) (*model.ProcessingJob, error) {
	var job model.ProcessingJob
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Take(&job).Error; err != nil {
		return nil, translate(err)
	}
	return &job, nil
}

func (s *GormJobStore) ListByOwner(ctx context.Context, filter ListFilter) ([]model.ProcessingJob, int64, error) {
	query := s.db.WithContext(ctx).Model(&model.ProcessingJob{}).Where("user_id = ?", filter.UserID)
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var jobs []model.ProcessingJob
	err := query.Order("created_at DESC").Order("id DESC").
		Offset(filter.Offset).Limit(filter.Limit).
		Find(&jobs).Error
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

func (s *GormJobStore) CountByStatus(ctx context.Context) (map[model.JobStatus]int64, error) {
	var rows []struct {
		Status string
		Total  int64
	}
	err := s.db.WithContext(ctx).Model(&model.ProcessingJob{}).
		Select("status, COUNT(*) AS total").Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := map[model.JobStatus]int64{
		model.JobStatusPending:    0,
		model.JobStatusProcessing: 0,
		model.JobStatusCancelling: 0,
		model.JobStatusCompleted:  0,
		model.JobStatusFailed:     0,
	}
	for _, r := range rows {
		counts[model.JobStatus(r.Status)] = r.Total
	}
	return counts, nil
}

// ClaimNext 认领最早的待处理任务: pending -> processing，进度置为 ProgressStarted。
// 条件更新保证同一行只会被一个 worker 认领，多进程下同样成立。
func (s *GormJobStore) ClaimNext(ctx context.Context, workerID string) (*model.ProcessingJob, error) {
	var job model.ProcessingJob
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("status = ?", string(model.JobStatusPending)).
			Order("created_at ASC").Order("id ASC").
			Take(&job).Error; err != nil {
			return err
		}

		now := s.now()
		res := tx.Model(&model.ProcessingJob{}).
			Where("id = ? AND status = ?", job.ID, string(model.JobStatusPending)).
			Updates(map[string]any{
				"status":       string(model.JobStatusProcessing),
				"progress":     model.ProgressStarted,
				"started_at":   now,
				"heartbeat_at": now,
				"worker_id":    workerID,
				"updated_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrClaimConflict
		}

		job.Status = model.JobStatusProcessing
		job.Progress = model.ProgressStarted
		job.StartedAt = &now
		job.HeartbeatAt = &now
		job.WorkerID = workerID
		job.UpdatedAt = now
		return nil
	})

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrNoPendingJob
	case err != nil:
		return nil, err
	}
	return &job, nil
}

// UpdateProgress 写入更大的进度并返回任务当前状态。
// 状态不是 processing 或进度不增时不写入，调用方据返回状态决定是否继续。
func (s *GormJobStore) UpdateProgress(ctx context.Context, id string, progress int) (model.JobStatus, error) {
	if progress <= 0 || progress >= model.ProgressDone {
		return "", fmt.Errorf("progress %d out of range", progress)
	}

	now := s.now()
	err := s.db.WithContext(ctx).Model(&model.ProcessingJob{}).
		Where("id = ? AND status = ? AND progress < ?", id, string(model.JobStatusProcessing), progress).
		Updates(map[string]any{
			"progress":     progress,
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
	if err != nil {
		return "", err
	}
	return s.currentStatus(ctx, id)
}

// Heartbeat 刷新心跳，与其他写入一样刷新 updated_at
func (s *GormJobStore) Heartbeat(ctx context.Context, id string) (model.JobStatus, error) {
	now := s.now()
	err := s.db.WithContext(ctx).Model(&model.ProcessingJob{}).
		Where("id = ? AND status IN ?", id, statusList(model.JobStatusProcessing, model.JobStatusCancelling)).
		Updates(map[string]any{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
	if err != nil {
		return "", err
	}
	return s.currentStatus(ctx, id)
}

func (s *GormJobStore) currentStatus(ctx context.Context, id string) (model.JobStatus, error) {
	var job model.ProcessingJob
	if err := s.db.WithContext(ctx).Select("status").Where("id = ?", id).Take(&job).Error; err != nil {
		return "", translate(err)
	}
	return job.Status, nil
}

// Complete processing -> completed
func (s *GormJobStore) Complete(ctx context.Context, id, resultFile string) error {
	now := s.now()
	return s.transition(ctx, id, []model.JobStatus{model.JobStatusProcessing}, map[string]any{
		"status":       string(model.JobStatusCompleted),
		"progress":     model.ProgressDone,
		"result_file":  resultFile,
		"error":        nil,
		"completed_at": now,
		"updated_at":   now,
	})
}

// Fail 任意非终态 -> failed，进度保持不变
func (s *GormJobStore) Fail(ctx context.Context, id, reason string) error {
	now := s.now()
	return s.transition(ctx, id,
		[]model.JobStatus{model.JobStatusPending, model.JobStatusProcessing, model.JobStatusCancelling},
		failUpdates(reason, now))
}

// CancelPending 仅在任务尚未被认领时直接失败
func (s *GormJobStore) CancelPending(ctx context.Context, id, reason string) error {
	return s.transition(ctx, id, []model.JobStatus{model.JobStatusPending}, failUpdates(reason, s.now()))
}

// MarkCancelling processing -> cancelling，由持有任务的 worker 收尾
func (s *GormJobStore) MarkCancelling(ctx context.Context, id string) error {
	return s.transition(ctx, id, []model.JobStatus{model.JobStatusProcessing}, map[string]any{
		"status":     string(model.JobStatusCancelling),
		"updated_at": s.now(),
	})
}

// FailStale 把心跳早于 cutoff 的运行中任务置为失败，返回影响行数
func (s *GormJobStore) FailStale(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.ProcessingJob{}).
		Where("status IN ? AND heartbeat_at < ?", statusList(model.JobStatusProcessing, model.JobStatusCancelling), cutoff).
		Updates(failUpdates(reason, s.now()))
	return res.RowsAffected, res.Error
}

func failUpdates(reason string, now time.Time) map[string]any {
	return map[string]any{
		"status":       string(model.JobStatusFailed),
		"error":        reason,
		"result_file":  nil,
		"completed_at": now,
		"updated_at":   now,
	}
}

func (s *GormJobStore) transition(ctx context.Context, id string, from []model.JobStatus, updates map[string]any) error {
	res := s.db.WithContext(ctx).Model(&model.ProcessingJob{}).
		Where("id = ? AND status IN ?", id, statusList(from...)).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleTransition
	}
	return nil
}
