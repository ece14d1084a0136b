package service

import (
	"context"
	"sync"
	"time"

	"rigforge/app/logger"
	"rigforge/app/store"

	"github.com/robfig/cron/v3"
)

// Reaper 定期回收心跳超时的任务，worker 进程崩溃后任务不会永久停留在 processing
type Reaper struct {
	jobs       store.JobStore
	staleAfter time.Duration
	schedule   string
	log        *logger.Logger
	now        func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

func NewReaper(jobs store.JobStore, staleAfter time.Duration, schedule string, log *logger.Logger) *Reaper {
	return &Reaper{
		jobs:       jobs,
		staleAfter: staleAfter,
		schedule:   schedule,
		log:        log.Named("reaper"),
		now:        time.Now,
	}
}

// Sweep 执行一次回收，返回被置为失败的任务数
func (r *Reaper) Sweep(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.staleAfter)
	n, err := r.jobs.FailStale(ctx, cutoff, ReasonHeartbeatLost)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.Warnf("已回收 %d 个心跳超时的任务 (早于 %s)", n, cutoff.Format(time.RFC3339))
	}
	return n, nil
}

// Start 按 cron 表达式定时执行 Sweep，上一轮未结束时跳过本轮
func (r *Reaper) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return nil
	}

	cl := cronLogger{log: r.log}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	_, err := c.AddFunc(r.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := r.Sweep(ctx); err != nil {
			r.log.Errorf("回收任务失败: %v", err)
		}
	})
	if err != nil {
		return err
	}

	c.Start()
	r.cron = c
	r.log.Infof("任务回收已启动: schedule=%q, stale_after=%s", r.schedule, r.staleAfter)
	return nil
}

// Stop 停止调度并等待正在执行的回收结束
func (r *Reaper) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	r.cron = nil
}

// cronLogger 把 cron 的日志接到 zap
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
