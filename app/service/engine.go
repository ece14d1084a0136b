package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"rigforge/app/config"
	"rigforge/app/logger"
	"rigforge/app/model"
	"rigforge/app/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	errCancelledByUser = errors.New("cancelled by user")
	errJobLost         = errors.New("job no longer owned by this worker")
	errJobTimeout      = errors.New("job timeout exceeded")
	errShuttingDown    = errors.New("engine shutting down")
)

// finalizeTimeout 写终态时使用的独立超时，不受任务 context 取消影响
const finalizeTimeout = 10 * time.Second

// Engine 执行引擎：一个调度协程从 processing_jobs 表认领任务，
// 交给固定数量的 worker 执行。每个任务在执行期间持续写心跳。
type Engine struct {
	jobs       store.JobStore
	retargeter Retargeter
	cfg        config.ProcessingConfig
	log        *logger.Logger
	workerID   string

	wake  chan struct{}
	slots chan struct{}
	tasks chan *model.ProcessingJob

	mu         sync.Mutex
	running    bool
	stopCh     chan struct{}
	dispatchWg sync.WaitGroup
	workerWg   sync.WaitGroup
	runCtx     context.Context
	cancelRun  context.CancelCauseFunc
}

func NewEngine(jobs store.JobStore, retargeter Retargeter, cfg config.ProcessingConfig, log *logger.Logger) *Engine {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	cfg.Workers = workers
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}

	host, _ := os.Hostname()
	return &Engine{
		jobs:       jobs,
		retargeter: retargeter,
		cfg:        cfg,
		log:        log.Named("engine"),
		workerID:   fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8]),
		wake:       make(chan struct{}, 1),
		slots:      make(chan struct{}, workers),
	}
}

// WorkerID 本进程认领任务时写入的标识
func (e *Engine) WorkerID() string {
	return e.workerID
}

// Notify 唤醒调度协程立即检查队列，不阻塞
func (e *Engine) Notify() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Start 启动调度协程和 worker
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.tasks = make(chan *model.ProcessingJob, e.cfg.Workers)
	e.runCtx, e.cancelRun = context.WithCancelCause(context.Background())

	for i := 0; i < e.cfg.Workers; i++ {
		e.workerWg.Add(1)
		go e.worker(i)
	}
	e.dispatchWg.Add(1)
	go e.dispatch()

	e.log.Infof("执行引擎已启动: worker_id=%s, workers=%d", e.workerID, e.cfg.Workers)
}

// Stop 停止认领新任务，等待运行中的任务至多 ShutdownGrace，
// 超时后取消它们。被取消的任务保持 processing，由 Reaper 回收。
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}
	e.running = false

	close(e.stopCh)
	e.dispatchWg.Wait()
	close(e.tasks)

	done := make(chan struct{})
	go func() {
		e.workerWg.Wait()
		close(done)
	}()

	grace := e.cfg.ShutdownGrace
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		e.log.Warnf("等待运行中任务超时 (%s)，强制取消", grace)
		e.cancelRun(errShuttingDown)
		<-done
	}
	e.cancelRun(errShuttingDown)

	e.log.Info("执行引擎已停止")
}

func (e *Engine) dispatch() {
	defer e.dispatchWg.Done()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		e.drain()

		select {
		case <-e.stopCh:
			return
		case <-e.wake:
		case <-ticker.C:
		}
	}
}

// drain 在有空闲 worker 时持续认领任务，直到队列为空或 worker 全忙
func (e *Engine) drain() {
	for {
		select {
		case <-e.stopCh:
			return
		case e.slots <- struct{}{}:
		default:
			return
		}

		job, err := e.jobs.ClaimNext(e.runCtx, e.workerID)
		if err != nil {
			<-e.slots
			switch {
			case errors.Is(err, store.ErrClaimConflict):
				continue
			case errors.Is(err, store.ErrNoPendingJob):
			default:
				e.log.Errorf("认领任务失败: %v", err)
			}
			return
		}

		e.log.Debugf("已认领任务: job_id=%s", job.ID)
		e.tasks <- job
	}
}

func (e *Engine) worker(n int) {
	defer e.workerWg.Done()

	for job := range e.tasks {
		e.execute(job)
		<-e.slots
		e.Notify()
	}
	e.log.Debugf("worker %d 已退出", n)
}

// execute 运行单个任务。任何错误、panic 或超时都转换为 failed，
// 不会让任务停留在 processing。
func (e *Engine) execute(job *model.ProcessingJob) {
	log := e.log.With(zap.String("job_id", job.ID))
	start := time.Now()
	log.Info("开始处理任务",
		zap.String("character", job.CharacterName),
		zap.String("animation", job.AnimationName))

	jobCtx, cancel := context.WithCancelCause(e.runCtx)
	defer cancel(nil)
	ctx := jobCtx
	if e.cfg.JobTimeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeoutCause(jobCtx, e.cfg.JobTimeout, errJobTimeout)
		defer stop()
	}

	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		e.heartbeat(ctx, job.ID, cancel)
	}()

	report := func(progress int) error {
		status, err := e.jobs.UpdateProgress(ctx, job.ID, progress)
		if err != nil {
			return fmt.Errorf("report progress: %w", err)
		}
		return ownershipError(status)
	}

	resultKey, runErr := e.run(ctx, job, report)
	cause := context.Cause(ctx)
	cancel(nil)
	<-hbDone

	if runErr == nil && cause != nil {
		runErr = cause
	}
	e.finish(job, resultKey, runErr, cause, time.Since(start))
}

func (e *Engine) run(ctx context.Context, job *model.ProcessingJob, report ProgressFunc) (key string, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("任务执行 panic", zap.String("job_id", job.ID), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return e.retargeter.Retarget(ctx, inputFromJob(job), report)
}

// heartbeat 定期刷新心跳，发现任务被取消或已被其他方终结时取消执行
func (e *Engine) heartbeat(ctx context.Context, jobID string, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, err := e.jobs.Heartbeat(ctx, jobID)
			if err != nil {
				if ctx.Err() == nil {
					e.log.Warnf("刷新心跳失败: job_id=%s, err=%v", jobID, err)
				}
				continue
			}
			if err := ownershipError(status); err != nil {
				cancel(err)
				return
			}
		}
	}
}

func ownershipError(status model.JobStatus) error {
	switch {
	case status == model.JobStatusCancelling:
		return errCancelledByUser
	case status != model.JobStatusProcessing:
		return errJobLost
	}
	return nil
}

func (e *Engine) finish(job *model.ProcessingJob, resultKey string, runErr, cause error, elapsed time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	log := e.log.With(zap.String("job_id", job.ID), zap.Duration("elapsed", elapsed))

	switch {
	case errors.Is(runErr, errShuttingDown) || errors.Is(cause, errShuttingDown):
		log.Warn("引擎关闭，任务未完成，留待回收")
		return
	case errors.Is(runErr, errJobLost) || errors.Is(cause, errJobLost):
		log.Warn("任务已被其他方终结，放弃结果")
		return
	case runErr == nil:
		err := e.jobs.Complete(ctx, job.ID, resultKey)
		if err == nil {
			log.Info("任务完成", zap.String("result_file", resultKey))
			return
		}
		if !errors.Is(err, store.ErrStaleTransition) {
			log.Error("写入完成状态失败", zap.Error(err))
			e.fail(ctx, log, job.ID, fmt.Sprintf("processing failed: record result: %v", err))
			return
		}
		// 完成前一刻被取消
		e.fail(ctx, log, job.ID, ReasonCancelled)
		return
	}

	e.fail(ctx, log, job.ID, failureReason(runErr, cause, e.cfg.JobTimeout))
}

func (e *Engine) fail(ctx context.Context, log *zap.Logger, jobID, reason string) {
	if err := e.jobs.Fail(ctx, jobID, reason); err != nil {
		if errors.Is(err, store.ErrStaleTransition) {
			log.Debug("任务已处于终态，忽略失败写入")
			return
		}
		log.Error("写入失败状态失败", zap.Error(err))
		return
	}
	log.Warn("任务失败", zap.String("reason", reason))
}

func failureReason(runErr, cause error, timeout time.Duration) string {
	switch {
	case errors.Is(runErr, errCancelledByUser) || errors.Is(cause, errCancelledByUser):
		return ReasonCancelled
	case errors.Is(cause, errJobTimeout):
		return fmt.Sprintf("processing timed out after %s", timeout)
	}
	return fmt.Sprintf("processing failed: %v", runErr)
}
