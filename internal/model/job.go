package model

import (
	"time"
)

// Job 一次设备会话执行记录（连接、执行命令列表、断开）
type Job struct {
	ID        string `json:"id" gorm:"primaryKey;type:varchar(64)"`
	BatchID   string `json:"batch_id,omitempty" gorm:"type:varchar(64);index"`
	Device    string `json:"device" gorm:"type:varchar(128)"`
	Host      string `json:"host" gorm:"type:varchar(128);not null;index"`
	Port      int    `json:"port"`
	Transport string `json:"transport" gorm:"type:varchar(16);not null;default:'ssh'"`
	Platform  string `json:"platform" gorm:"type:varchar(32);not null;index"`
	Username  string `json:"username" gorm:"type:varchar(64)"`
	Status    string `json:"status" gorm:"type:varchar(16);not null;default:'pending';index"`
	// BasePrompt 连接阶段识别出的主机名
	BasePrompt string `json:"base_prompt" gorm:"type:varchar(128)"`
	// ErrorKind 错误类别：prompt_not_found | mode_transition | timeout | io | not_ready | ...
	ErrorKind string `json:"error_kind,omitempty" gorm:"type:varchar(32)"`
	ErrorMsg  string `json:"error_msg,omitempty" gorm:"type:text"`
	// TranscriptURI 会话记录存储位置 file:// 或 minio://
	TranscriptURI string       `json:"transcript_uri,omitempty" gorm:"type:varchar(512)"`
	StartTime     time.Time    `json:"start_time"`
	EndTime       time.Time    `json:"end_time"`
	Duration      int64        `json:"duration"` // 执行时长，毫秒
	Commands      []CommandLog `json:"commands,omitempty" gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time    `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time    `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 表名
func (Job) TableName() string {
	return "jobs"
}

// JobStatus 执行状态枚举
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusSuccess   = "success"
	JobStatusFailed    = "failed"
	JobStatusTimeout   = "timeout"
	JobStatusCancelled = "cancelled"
)

// CommandLog 单条命令的执行结果
type CommandLog struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	JobID     string    `json:"job_id" gorm:"type:varchar(64);not null;index"`
	Seq       int       `json:"seq" gorm:"not null"`
	Command   string    `json:"command" gorm:"type:text;not null"`
	Output    string    `json:"output" gorm:"type:text"`
	Prompt    string    `json:"prompt" gorm:"type:varchar(256)"`
	TimedOut  bool      `json:"timed_out"`
	ElapsedMS int64     `json:"elapsed_ms"`
	Error     string    `json:"error,omitempty" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 表名
func (CommandLog) TableName() string {
	return "command_logs"
}
