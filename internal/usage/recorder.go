package usage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/chatrelay/config"
	"github.com/BaSui01/chatrelay/internal/database"
)

// Record 一轮对话的用量记录
type Record struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SessionID      string    `gorm:"size:64;index" json:"session_id"`
	Transport      string    `gorm:"size:16" json:"transport"`
	Model          string    `gorm:"size:128;index" json:"model"`
	PromptTokens   int       `json:"prompt_tokens"`
	RequestContext int       `json:"request_context"`
	AnswerChars    int       `json:"answer_chars"`
	Outcome        string    `gorm:"size:32;index" json:"outcome"`
	DurationMS     int64     `json:"duration_ms"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

// TableName 表名
func (Record) TableName() string { return "exchange_usage" }

// Recorder 用量记录器
type Recorder interface {
	Record(ctx context.Context, rec Record) error
	Close() error
}

// NopRecorder 丢弃所有记录
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Record) error { return nil }
func (NopRecorder) Close() error                         { return nil }

// recordRetries sqlite 单写者下的重试次数
const recordRetries = 3

// GormRecorder 基于 gorm 的用量记录器
type GormRecorder struct {
	pool   *database.PoolManager
	logger *zap.Logger
}

// NewGormRecorder 创建记录器并迁移表结构
func NewGormRecorder(pool *database.PoolManager, logger *zap.Logger) (*GormRecorder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.DB().AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate usage table: %w", err)
	}
	return &GormRecorder{pool: pool, logger: logger.With(zap.String("component", "usage"))}, nil
}

// Open 按配置创建记录器. Driver 为空时返回 NopRecorder.
func Open(cfg config.UsageConfig, logger *zap.Logger) (Recorder, error) {
	if cfg.Driver == "" {
		return NopRecorder{}, nil
	}
	pool, err := database.Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	rec, err := NewGormRecorder(pool, logger)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	return rec, nil
}

// Record 写入一条记录
func (r *GormRecorder) Record(ctx context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	err := r.pool.WithTransactionRetry(ctx, recordRetries, func(tx *gorm.DB) error {
		return tx.Create(&rec).Error
	})
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	r.logger.Debug("usage recorded",
		zap.String("session_id", rec.SessionID),
		zap.String("model", rec.Model),
		zap.String("outcome", rec.Outcome),
	)
	return nil
}

// Summary 按模型汇总的用量
type Summary struct {
	Model        string `json:"model"`
	Exchanges    int64  `json:"exchanges"`
	PromptTokens int64  `json:"prompt_tokens"`
	AnswerChars  int64  `json:"answer_chars"`
}

// Summarize 汇总 since 之后的用量，按模型分组
func (r *GormRecorder) Summarize(ctx context.Context, since time.Time) ([]Summary, error) {
	var out []Summary
	err := r.pool.DB().WithContext(ctx).
		Model(&Record{}).
		Select("model, COUNT(*) AS exchanges, COALESCE(SUM(prompt_tokens), 0) AS prompt_tokens, COALESCE(SUM(answer_chars), 0) AS answer_chars").
		Where("created_at >= ?", since).
		Group("model").
		Order("model").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("summarize usage: %w", err)
	}
	return out, nil
}

// Ping 检查存储可用
func (r *GormRecorder) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close 关闭底层连接池
func (r *GormRecorder) Close() error {
	return r.pool.Close()
}
