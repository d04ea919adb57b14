package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/chatrelay/types"
)

// destroyTimeout bounds the detached cleanup in Scoped.
const destroyTimeout = 5 * time.Second

// Backend 是并发安全的会话存储.
type Backend interface {
	// Create 创建空会话，已存在时返回 DUPLICATE_SESSION.
	Create(ctx context.Context, id string) error
	// Append 追加一条消息，不存在时返回 UNKNOWN_SESSION.
	Append(ctx context.Context, id string, msg types.Message) error
	// Get 返回历史的副本.
	Get(ctx context.Context, id string) ([]types.Message, error)
	// Replace 整体替换历史.
	Replace(ctx context.Context, id string, history []types.Message) error
	// Delete 删除会话并报告其是否存在.
	Delete(ctx context.Context, id string) (bool, error)
}

// Observer 接收活跃会话数变化.
type Observer interface {
	SetActiveSessions(n int)
}

// Store 管理会话生命周期.
type Store struct {
	backend  Backend
	logger   *zap.Logger
	observer Observer
	active   atomic.Int64
}

// Option 配置 Store.
type Option func(*Store)

// WithObserver 注册活跃会话数观察者.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

// NewStore 创建 Store.
func NewStore(backend Backend, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		backend: backend,
		logger:  logger.With(zap.String("component", "session_store")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewID 生成会话 ID.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Create 创建会话.
func (s *Store) Create(ctx context.Context, id string) error {
	if err := s.backend.Create(ctx, id); err != nil {
		return err
	}
	s.publish(s.active.Add(1))
	s.logger.Debug("session created", zap.String("session_id", id))
	return nil
}

// Append 追加消息.
func (s *Store) Append(ctx context.Context, id string, msg types.Message) error {
	return s.backend.Append(ctx, id, msg)
}

// Get 返回历史副本.
func (s *Store) Get(ctx context.Context, id string) ([]types.Message, error) {
	return s.backend.Get(ctx, id)
}

// Replace 替换历史，用于裁剪与回滚.
func (s *Store) Replace(ctx context.Context, id string, history []types.Message) error {
	return s.backend.Replace(ctx, id, history)
}

// Destroy 删除会话，幂等.
func (s *Store) Destroy(ctx context.Context, id string) error {
	existed, err := s.backend.Delete(ctx, id)
	if err != nil {
		return err
	}
	if existed {
		s.publish(s.active.Add(-1))
		s.logger.Debug("session destroyed", zap.String("session_id", id))
	}
	return nil
}

// Len 返回活跃会话数.
func (s *Store) Len() int {
	return int(s.active.Load())
}

// Scoped 创建新会话并运行 fn，无论 fn 正常返回、出错还是 panic，
// 退出时都会销毁会话. 销毁使用脱离取消的 context.
func (s *Store) Scoped(ctx context.Context, fn func(id string) error) error {
	id := NewID()
	if err := s.Create(ctx, id); err != nil {
		return err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), destroyTimeout)
		defer cancel()
		if err := s.Destroy(dctx, id); err != nil {
			s.logger.Warn("session destroy failed", zap.String("session_id", id), zap.Error(err))
		}
	}()
	return fn(id)
}

func (s *Store) publish(n int64) {
	if s.observer != nil {
		s.observer.SetActiveSessions(int(n))
	}
}
