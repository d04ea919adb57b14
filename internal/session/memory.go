package session

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/BaSui01/chatrelay/types"
)

// DefaultShards 内存后端默认分片数.
const DefaultShards = 32

type shard struct {
	mu       sync.RWMutex
	sessions map[string][]types.Message
}

// MemoryBackend 是按会话 ID 分片的内存后端，不相关的会话不会争用同一把锁.
type MemoryBackend struct {
	shards []*shard
}

// NewMemoryBackend 创建内存后端. shards <= 0 时使用 DefaultShards.
func NewMemoryBackend(shards int) *MemoryBackend {
	if shards <= 0 {
		shards = DefaultShards
	}
	b := &MemoryBackend{shards: make([]*shard, shards)}
	for i := range b.shards {
		b.shards[i] = &shard{sessions: make(map[string][]types.Message)}
	}
	return b
}

func (b *MemoryBackend) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return b.shards[h.Sum32()%uint32(len(b.shards))]
}

func unknownSession(id string) error {
	return types.NewError(types.ErrUnknownSession, fmt.Sprintf("session %s not found", id))
}

func (b *MemoryBackend) Create(_ context.Context, id string) error {
	s := b.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; ok {
		return types.NewError(types.ErrDuplicateSession, fmt.Sprintf("session %s already exists", id))
	}
	s.sessions[id] = []types.Message{}
	return nil
}

func (b *MemoryBackend) Append(_ context.Context, id string, msg types.Message) error {
	s := b.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.sessions[id]
	if !ok {
		return unknownSession(id)
	}
	s.sessions[id] = append(h, msg)
	return nil
}

func (b *MemoryBackend) Get(_ context.Context, id string) ([]types.Message, error) {
	s := b.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.sessions[id]
	if !ok {
		return nil, unknownSession(id)
	}
	return types.CloneHistory(h), nil
}

func (b *MemoryBackend) Replace(_ context.Context, id string, history []types.Message) error {
	s := b.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return unknownSession(id)
	}
	s.sessions[id] = types.CloneHistory(history)
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, id string) (bool, error) {
	s := b.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok, nil
}
