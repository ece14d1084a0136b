package service

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/color"
	"path"
	"time"

	"rigforge/app/model"
	"rigforge/app/storage"

	"github.com/casdoor/oss"
	"github.com/disintegration/imaging"
)

// ProgressFunc 上报进度，返回错误时应立即停止工作
type ProgressFunc func(progress int) error

// RetargetInput 一次重定向所需的全部输入，来自任务提交时的快照
type RetargetInput struct {
	JobID             string         `json:"job_id"`
	CharacterID       string         `json:"character_id"`
	CharacterName     string         `json:"character_name"`
	CharacterFile     string         `json:"character_file"`
	AnimationID       string         `json:"animation_id"`
	AnimationName     string         `json:"animation_name"`
	AnimationFile     string         `json:"animation_file"`
	AnimationDuration float64        `json:"animation_duration"`
	ExportFormat      string         `json:"export_format"`
	Settings          map[string]any `json:"settings"`
}

func inputFromJob(job *model.ProcessingJob) RetargetInput {
	return RetargetInput{
		JobID:             job.ID,
		CharacterID:       job.CharacterID,
		CharacterName:     job.CharacterName,
		CharacterFile:     job.CharacterFile,
		AnimationID:       job.AnimationID,
		AnimationName:     job.AnimationName,
		AnimationFile:     job.AnimationFile,
		AnimationDuration: job.AnimationDuration,
		ExportFormat:      job.ExportFormat(),
		Settings:          job.Settings,
	}
}

// Retargeter 把动画应用到角色，返回结果文件在存储中的 key
type Retargeter interface {
	Retarget(ctx context.Context, in RetargetInput, report ProgressFunc) (string, error)
}

// ResultKey 结果文件的存储位置，始终位于 processed/<jobID>/ 下
func ResultKey(jobID, ext string) string {
	return fmt.Sprintf("processed/%s/character_animated_%s.%s", jobID, jobID, model.NormalizeFormat(ext))
}

// BundleRetargeter 内置实现：把角色模型、动画片段、参数清单和缩略图打成 zip。
// 资源 key 为空时只写入占位清单；key 存在但文件缺失视为失败。
type BundleRetargeter struct {
	store     oss.StorageInterface
	stepDelay time.Duration
	now       func() time.Time
}

func NewBundleRetargeter(store oss.StorageInterface, stepDelay time.Duration) *BundleRetargeter {
	return &BundleRetargeter{store: store, stepDelay: stepDelay, now: time.Now}
}

type bundleManifest struct {
	JobID        string         `json:"job_id"`
	Character    manifestAsset  `json:"character"`
	Animation    manifestAsset  `json:"animation"`
	Duration     float64        `json:"duration"`
	ExportFormat string         `json:"export_format"`
	Settings     map[string]any `json:"settings"`
	CreatedAt    time.Time      `json:"created_at"`
}

type manifestAsset struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Source string `json:"source,omitempty"`
	Entry  string `json:"entry,omitempty"`
}

type bundleEntry struct {
	name string
	data []byte
}

func (b *BundleRetargeter) Retarget(ctx context.Context, in RetargetInput, report ProgressFunc) (string, error) {
	var entries []bundleEntry

	character, err := b.loadAsset(ctx, in.CharacterFile, "model")
	if err != nil {
		return "", fmt.Errorf("load character model: %w", err)
	}
	if err := b.step(ctx, report, 25); err != nil {
		return "", err
	}

	animation, err := b.loadAsset(ctx, in.AnimationFile, "animation")
	if err != nil {
		return "", fmt.Errorf("load animation clip: %w", err)
	}
	if err := b.step(ctx, report, 45); err != nil {
		return "", err
	}

	manifest := bundleManifest{
		JobID:        in.JobID,
		Character:    manifestAsset{ID: in.CharacterID, Name: in.CharacterName, Source: in.CharacterFile},
		Animation:    manifestAsset{ID: in.AnimationID, Name: in.AnimationName, Source: in.AnimationFile},
		Duration:     in.AnimationDuration,
		ExportFormat: in.ExportFormat,
		Settings:     in.Settings,
		CreatedAt:    b.now().UTC(),
	}
	if character != nil {
		manifest.Character.Entry = character.name
		entries = append(entries, *character)
	}
	if animation != nil {
		manifest.Animation.Entry = animation.name
		entries = append(entries, *animation)
	}

	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	thumb, err := bundleThumbnail(in.JobID)
	if err != nil {
		return "", fmt.Errorf("render thumbnail: %w", err)
	}
	entries = append(entries,
		bundleEntry{name: "manifest.json", data: manifestData},
		bundleEntry{name: "thumbnail.png", data: thumb},
	)
	if err := b.step(ctx, report, 70); err != nil {
		return "", err
	}

	archive, err := zipEntries(entries)
	if err != nil {
		return "", fmt.Errorf("build bundle: %w", err)
	}
	if err := b.step(ctx, report, 90); err != nil {
		return "", err
	}

	key, err := storage.WriteBytes(ctx, b.store, ResultKey(in.JobID, "zip"), archive)
	if err != nil {
		return "", fmt.Errorf("store result: %w", err)
	}
	return key, nil
}

func (b *BundleRetargeter) loadAsset(ctx context.Context, key, dir string) (*bundleEntry, error) {
	if key == "" {
		return nil, nil
	}
	data, err := storage.ReadAll(ctx, b.store, key)
	if err != nil {
		return nil, err
	}
	return &bundleEntry{name: path.Join(dir, path.Base(key)), data: data}, nil
}

// step 模拟该阶段耗时后上报进度
func (b *BundleRetargeter) step(ctx context.Context, report ProgressFunc, progress int) error {
	if err := sleepCtx(ctx, b.stepDelay); err != nil {
		return err
	}
	return report(progress)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func zipEntries(entries []bundleEntry) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(e.data); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// bundleThumbnail 按任务 id 生成固定配色的缩略图
func bundleThumbnail(jobID string) ([]byte, error) {
	var seed byte
	for i := 0; i < len(jobID); i++ {
		seed += jobID[i]
	}
	img := imaging.New(128, 128, color.NRGBA{R: 40 + seed%120, G: 90, B: 160, A: 255})
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
