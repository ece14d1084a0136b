package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"rigforge/app/auth"
	"rigforge/app/logger"
	"rigforge/app/model"
	"rigforge/app/store"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Notifier 新任务入队后唤醒执行引擎。独立 worker 进程部署时可为空，
// 由 worker 自行轮询。
type Notifier interface {
	Notify()
}

// SubmitRequest 提交处理任务的参数
type SubmitRequest struct {
	CharacterID string
	AnimationID string
	Settings    map[string]any
}

// DownloadDescriptor 限时下载描述
type DownloadDescriptor struct {
	DownloadURL string `json:"download_url"`
	Filename    string `json:"filename"`
	ExpiresIn   int    `json:"expires_in"`
}

// JobPage 任务分页结果
type JobPage struct {
	List  []model.ProcessingJob `json:"list"`
	Total int64                 `json:"total"`
	Page  int                   `json:"page"`
	Size  int                   `json:"size"`
}

// Orchestrator 校验并创建任务，提供状态查询、下载和取消
type Orchestrator struct {
	assets      store.AssetStore
	jobs        store.JobStore
	notifier    Notifier
	tokens      *auth.JWTService
	downloadTTL time.Duration
	log         *logger.Logger
}

func NewOrchestrator(assets store.AssetStore, jobs store.JobStore, notifier Notifier, tokens *auth.JWTService, downloadTTL time.Duration, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		assets:      assets,
		jobs:        jobs,
		notifier:    notifier,
		tokens:      tokens,
		downloadTTL: downloadTTL,
		log:         log.Named("orchestrator"),
	}
}

func parseID(raw string) (string, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrMalformedIdentifier, raw)
	}
	return id.String(), nil
}

// Submit 校验资源可见性后创建 pending 任务并立即返回，不等待执行
func (o *Orchestrator) Submit(ctx context.Context, userID string, req SubmitRequest) (*model.ProcessingJob, error) {
	characterID, err := parseID(req.CharacterID)
	if err != nil {
		return nil, err
	}
	animationID, err := parseID(req.AnimationID)
	if err != nil {
		return nil, err
	}

	character, err := o.assets.FindAccessibleCharacter(ctx, characterID, userID)
	if err != nil {
		return nil, o.lookupError("character", err)
	}
	animation, err := o.assets.FindAccessibleAnimation(ctx, animationID, userID)
	if err != nil {
		return nil, o.lookupError("animation", err)
	}

	settings := model.DefaultSettings()
	if req.Settings != nil {
		settings = datatypes.JSONMap(req.Settings)
	}

	characterFile := character.RiggedFile
	if characterFile == "" {
		characterFile = character.ModelFile
	}

	job := &model.ProcessingJob{
		ID:                uuid.NewString(),
		CharacterID:       character.ID,
		AnimationID:       animation.ID,
		UserID:            userID,
		Status:            model.JobStatusPending,
		Progress:          0,
		Settings:          settings,
		CharacterName:     character.Name,
		CharacterFile:     characterFile,
		AnimationName:     animation.Name,
		AnimationFile:     animation.AnimationFile,
		AnimationDuration: animation.Duration,
	}
	if err := o.jobs.Create(ctx, job); err != nil {
		o.log.Errorf("任务入队失败: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	if o.notifier != nil {
		o.notifier.Notify()
	}
	o.log.Infof("任务已入队: job_id=%s, user_id=%s, character=%s, animation=%s", job.ID, userID, character.Name, animation.Name)
	return job, nil
}

func (o *Orchestrator) lookupError(kind string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", kind, ErrNotFoundOrForbidden)
	}
	return fmt.Errorf("lookup %s: %w", kind, err)
}

// Status 返回任务当前记录的状态，纯读取
func (o *Orchestrator) Status(ctx context.Context, jobID, userID string) (*model.ProcessingJob, error) {
	id, err := parseID(jobID)
	if err != nil {
		return nil, err
	}
	return o.ownedJob(ctx, id, userID)
}

func (o *Orchestrator) ownedJob(ctx context.Context, id, userID string) (*model.ProcessingJob, error) {
	job, err := o.jobs.FindByIDAndOwner(ctx, id, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("job: %w", ErrNotFoundOrForbidden)
		}
		return nil, err
	}
	return job, nil
}

// Download 为已完成的任务签发限时下载地址，不修改任务
func (o *Orchestrator) Download(ctx context.Context, jobID, userID string) (*DownloadDescriptor, error) {
	job, err := o.Status(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusCompleted || job.ResultFile == nil || *job.ResultFile == "" {
		return nil, ErrResultNotAvailable
	}

	token, err := o.tokens.GenerateDownloadToken(job.ID, userID, o.downloadTTL)
	if err != nil {
		return nil, fmt.Errorf("sign download token: %w", err)
	}
	return &DownloadDescriptor{
		DownloadURL: "/api/files/download/" + token,
		Filename:    ResultFilename(job),
		ExpiresIn:   int(o.downloadTTL / time.Second),
	}, nil
}

// ResolveDownload 校验下载令牌并返回对应的已完成任务
func (o *Orchestrator) ResolveDownload(ctx context.Context, token string) (*model.ProcessingJob, error) {
	claims, err := o.tokens.ValidateDownloadToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	job, err := o.ownedJob(ctx, claims.JobID, claims.UserID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusCompleted || job.ResultFile == nil {
		return nil, ErrResultNotAvailable
	}
	return job, nil
}

// ResultFilename 结果文件的建议下载名，扩展名跟随实际产物
func ResultFilename(job *model.ProcessingJob) string {
	ext := job.ExportFormat()
	if job.ResultFile != nil {
		if e := path.Ext(*job.ResultFile); len(e) > 1 && model.IsValidFormat(e[1:]) {
			ext = e[1:]
		}
	}
	return downloadFilename(job.CharacterName, job.AnimationName, job.ID, ext)
}

// Cancel 取消任务：pending 直接失败；processing 标记为 cancelling，
// 由持有任务的 worker 在下一次进度上报或心跳时终结。
func (o *Orchestrator) Cancel(ctx context.Context, jobID, userID string) (*model.ProcessingJob, error) {
	id, err := parseID(jobID)
	if err != nil {
		return nil, err
	}

	// 与 worker 认领存在竞争，状态变化时重试一次
	for attempt := 0; attempt < 2; attempt++ {
		job, err := o.ownedJob(ctx, id, userID)
		if err != nil {
			return nil, err
		}

		switch job.Status {
		case model.JobStatusCompleted, model.JobStatusFailed:
			return job, ErrJobFinished
		case model.JobStatusCancelling:
			return job, nil
		case model.JobStatusPending:
			err = o.jobs.CancelPending(ctx, id, ReasonCancelled)
		case model.JobStatusProcessing:
			err = o.jobs.MarkCancelling(ctx, id)
		}

		if errors.Is(err, store.ErrStaleTransition) {
			continue
		}
		if err != nil {
			return nil, err
		}
		o.log.Infof("任务已请求取消: job_id=%s, from=%s", id, job.Status)
		return o.ownedJob(ctx, id, userID)
	}

	job, err := o.ownedJob(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return job, ErrJobFinished
	}
	return job, nil
}

// List 分页列出调用者自己的任务
func (o *Orchestrator) List(ctx context.Context, userID, status string, page, size int) (*JobPage, error) {
	st := model.JobStatus(status)
	if status != "" && !st.IsValid() {
		return nil, ErrInvalidStatus
	}
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}

	jobs, total, err := o.jobs.ListByOwner(ctx, store.ListFilter{
		UserID: userID,
		Status: st,
		Offset: (page - 1) * size,
		Limit:  size,
	})
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []model.ProcessingJob{}
	}
	return &JobPage{List: jobs, Total: total, Page: page, Size: size}, nil
}

// QueueStats 各状态的任务数量
func (o *Orchestrator) QueueStats(ctx context.Context) (map[model.JobStatus]int64, error) {
	return o.jobs.CountByStatus(ctx)
}
