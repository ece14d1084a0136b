package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"rigforge/app/model"
	"rigforge/app/storage"

	"github.com/casdoor/oss"
	"resty.dev/v3"
)

// RemoteRetargeter 把任务交给外部渲染服务，轮询其进度并把产物写回存储。
// 渲染服务与本服务共享资源存储，请求中只传文件 key。
type RemoteRetargeter struct {
	client       *resty.Client
	store        oss.StorageInterface
	pollInterval time.Duration
}

type remoteSubmitResponse struct {
	TaskID string `json:"task_id"`
}

type remoteTaskResponse struct {
	Status   string `json:"status"` // queued / running / done / failed
	Progress int    `json:"progress"`
	Error    string `json:"error"`
	Format   string `json:"format"`
	Artifact []byte `json:"artifact"`
}

func NewRemoteRetargeter(baseURL string, timeout time.Duration, store oss.StorageInterface, pollInterval time.Duration) *RemoteRetargeter {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")

	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &RemoteRetargeter{client: client, store: store, pollInterval: pollInterval}
}

// Close 释放底层连接
func (r *RemoteRetargeter) Close() error {
	return r.client.Close()
}

func (r *RemoteRetargeter) Retarget(ctx context.Context, in RetargetInput, report ProgressFunc) (string, error) {
	var submitted remoteSubmitResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(in).
		SetResult(&submitted).
		Post("/v1/retarget")
	if err != nil {
		return "", fmt.Errorf("submit to renderer: %w", err)
	}
	if resp.IsError() || submitted.TaskID == "" {
		return "", fmt.Errorf("renderer rejected job: status %d, body %s", resp.StatusCode(), resp.String())
	}

	last := 0
	for {
		if err := sleepCtx(ctx, r.pollInterval); err != nil {
			return "", err
		}

		var task remoteTaskResponse
		resp, err := r.client.R().
			SetContext(ctx).
			SetResult(&task).
			Get("/v1/retarget/" + submitted.TaskID)
		if err != nil {
			return "", fmt.Errorf("poll renderer: %w", err)
		}
		if resp.IsError() {
			return "", fmt.Errorf("poll renderer: status %d", resp.StatusCode())
		}

		// 远端 0..100 映射到本地 (ProgressStarted, 90]
		if p := scaleRemoteProgress(task.Progress); p > last {
			if err := report(p); err != nil {
				return "", err
			}
			last = p
		}

		switch task.Status {
		case "done":
			if len(task.Artifact) == 0 {
				return "", fmt.Errorf("renderer returned empty artifact")
			}
			format := strings.ToLower(task.Format)
			if !model.IsValidFormat(format) {
				format = in.ExportFormat
			}
			key, err := storage.WriteBytes(ctx, r.store, ResultKey(in.JobID, format), task.Artifact)
			if err != nil {
				return "", fmt.Errorf("store result: %w", err)
			}
			return key, nil
		case "failed":
			if task.Error == "" {
				task.Error = "unknown error"
			}
			return "", fmt.Errorf("renderer failed: %s", task.Error)
		}
	}
}

func scaleRemoteProgress(p int) int {
	if p <= 0 {
		return 0
	}
	if p > 100 {
		p = 100
	}
	return 10 + p*80/100
}
