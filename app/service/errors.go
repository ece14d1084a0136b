package service

import "errors"

var (
	// ErrNotFoundOrForbidden 不存在与无权访问不做区分，避免泄露记录是否存在
	ErrNotFoundOrForbidden = errors.New("not found or access denied")
	ErrMalformedIdentifier = errors.New("malformed identifier")
	ErrResultNotAvailable  = errors.New("result not available")
	ErrJobFinished         = errors.New("job already finished")
	ErrQueueUnavailable    = errors.New("processing queue unavailable")
	ErrInvalidStatus       = errors.New("invalid status filter")
	ErrInvalidToken        = errors.New("invalid or expired download token")
)

// 任务失败原因，会原样写入 error 字段
const (
	ReasonCancelled     = "job cancelled by user"
	ReasonHeartbeatLost = "processing timed out: worker heartbeat lost"
)
