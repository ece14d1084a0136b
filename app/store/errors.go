package store

import "errors"

var (
	// ErrNotFound 记录不存在，或对调用者不可见
	ErrNotFound = errors.New("record not found")
	// ErrNoPendingJob 队列为空
	ErrNoPendingJob = errors.New("no pending job")
	// ErrClaimConflict 任务已被其他 worker 抢先认领
	ErrClaimConflict = errors.New("job claimed by another worker")
	// ErrStaleTransition 前置状态不满足，更新未生效
	ErrStaleTransition = errors.New("job state changed concurrently")
)
