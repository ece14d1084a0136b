package model

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// JobStatus 处理任务状态
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCancelling JobStatus = "cancelling" // 已请求取消，等待 worker 收尾
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

const (
	// ProgressStarted worker 认领任务后立即写入的进度
	ProgressStarted = 10
	ProgressDone    = 100
)

// IsTerminal 终态不允许再发生任何变更
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsActive 任务是否仍由某个 worker 持有
func (s JobStatus) IsActive() bool {
	return s == JobStatusProcessing || s == JobStatusCancelling
}

func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCancelling, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// ProcessingJob 把动画应用到角色的处理任务。
// processing_jobs 表同时充当持久化队列。
type ProcessingJob struct {
	ID          string            `json:"id" gorm:"primaryKey;size:36"`
	CharacterID string            `json:"character_id" gorm:"size:36;not null;index"`
	AnimationID string            `json:"animation_id" gorm:"size:36;not null;index"`
	UserID      string            `json:"user_id" gorm:"size:36;not null;index"`
	Status      JobStatus         `json:"status" gorm:"size:20;not null;default:'pending';index"`
	Progress    int               `json:"progress" gorm:"not null;default:0"`
	ResultFile  *string           `json:"result_file" gorm:"size:500"`
	Error       *string           `json:"error" gorm:"type:text"`
	Settings    datatypes.JSONMap `json:"settings"`
	CreatedAt   time.Time         `json:"created_at" gorm:"index"`
	UpdatedAt   time.Time         `json:"updated_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`

	HeartbeatAt *time.Time `json:"-" gorm:"index"`
	WorkerID    string     `json:"-" gorm:"size:64"`

	// 提交时的资源快照，执行期间不再回读资源表
	CharacterName     string  `json:"-" gorm:"size:200"`
	CharacterFile     string  `json:"-" gorm:"size:500"`
	AnimationName     string  `json:"-" gorm:"size:200"`
	AnimationFile     string  `json:"-" gorm:"size:500"`
	AnimationDuration float64 `json:"-"`
}

func (ProcessingJob) TableName() string {
	return "processing_jobs"
}

func (j *ProcessingJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	return nil
}

// DefaultExportFormat 未指定或格式非法时使用
const DefaultExportFormat = "fbx"

// 格式会成为存储 key 和下载文件名的扩展名，只允许短的小写字母数字
var formatPattern = regexp.MustCompile(`^[a-z0-9]{1,8}$`)

// IsValidFormat 判断扩展名是否可以直接用于结果文件
func IsValidFormat(format string) bool {
	return formatPattern.MatchString(format)
}

// NormalizeFormat 统一为小写，非法值回退到 DefaultExportFormat
func NormalizeFormat(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	if IsValidFormat(format) {
		return format
	}
	return DefaultExportFormat
}

// ExportFormat 结果文件格式，默认 fbx
func (j *ProcessingJob) ExportFormat() string {
	if v, ok := j.Settings["export_format"].(string); ok {
		return NormalizeFormat(v)
	}
	return DefaultExportFormat
}

// DefaultSettings 未提交 settings 时使用的默认值
func DefaultSettings() datatypes.JSONMap {
	return datatypes.JSONMap{
		"speed":         1.0,
		"arm_spacing":   50,
		"export_format": "fbx",
	}
}
