package service

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/sshcollectorpro/netdev/internal/database"
	"github.com/sshcollectorpro/netdev/internal/model"
)

// ErrJobNotFound 历史记录不存在
var ErrJobNotFound = errors.New("job not found")

// HistoryStore 会话执行历史（jobs + command_logs）
type HistoryStore struct {
	db *gorm.DB
}

// NewHistoryStore 创建历史存储
func NewHistoryStore(db *gorm.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// HistoryFilter 历史查询条件，零值字段不参与过滤
type HistoryFilter struct {
	Host     string `form:"host"`
	Platform string `form:"platform"`
	Status   string `form:"status"`
	BatchID  string `form:"batch_id"`
	Limit    int    `form:"limit"`
	Offset   int    `form:"offset"`
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	writeAttempts       = 5
)

// Ping 检查底层数据库连接
func (h *HistoryStore) Ping() error {
	return database.Health(h.db)
}

// Stats 连接池统计
func (h *HistoryStore) Stats() map[string]interface{} {
	return database.GetStats(h.db)
}

// Start 记录一次执行开始
func (h *HistoryStore) Start(job *model.Job) error {
	return database.WithRetry(h.db, func(tx *gorm.DB) error {
		return tx.Create(job).Error
	}, writeAttempts, 0)
}

// Finish 更新执行结果并写入命令明细
func (h *HistoryStore) Finish(job *model.Job, logs []model.CommandLog) error {
	return database.TransactionWithRetry(h.db, func(tx *gorm.DB) error {
		if err := tx.Model(&model.Job{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
			"status":         job.Status,
			"base_prompt":    job.BasePrompt,
			"error_kind":     job.ErrorKind,
			"error_msg":      job.ErrorMsg,
			"transcript_uri": job.TranscriptURI,
			"end_time":       job.EndTime,
			"duration":       job.Duration,
		}).Error; err != nil {
			return fmt.Errorf("update job: %w", err)
		}
		if len(logs) == 0 {
			return nil
		}
		for i := range logs {
			logs[i].JobID = job.ID
		}
		return tx.Create(&logs).Error
	}, writeAttempts, 0)
}

// Get 按 ID 查询，包含命令明细
func (h *HistoryStore) Get(id string) (*model.Job, error) {
	var job model.Job
	err := h.db.Preload("Commands", func(db *gorm.DB) *gorm.DB {
		return db.Order("seq ASC")
	}).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// List 分页查询，按开始时间倒序，不含命令明细
func (h *HistoryStore) List(f HistoryFilter) ([]model.Job, int64, error) {
	q := h.db.Model(&model.Job{})
	if f.Host != "" {
		q = q.Where("host = ?", f.Host)
	}
	if f.Platform != "" {
		q = q.Where("platform = ?", f.Platform)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.BatchID != "" {
		q = q.Where("batch_id = ?", f.BatchID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	var jobs []model.Job
	err := q.Order("start_time DESC").Limit(limit).Offset(max(f.Offset, 0)).Find(&jobs).Error
	return jobs, total, err
}

// Prune 删除早于 before 的历史记录
func (h *HistoryStore) Prune(before time.Time) (int64, error) {
	var ids []string
	if err := h.db.Model(&model.Job{}).Where("start_time < ?", before).Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	var deleted int64
	err := database.TransactionWithRetry(h.db, func(tx *gorm.DB) error {
		if err := tx.Where("job_id IN ?", ids).Delete(&model.CommandLog{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&model.Job{})
		deleted = res.RowsAffected
		return res.Error
	}, writeAttempts, 0)
	return deleted, err
}
