package app

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry 按会话ID管理会话
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	opts     SessionOptions
}

func NewRegistry(opts SessionOptions) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		opts:     opts,
	}
}

// GetOrCreate 找不到 id 对应的会话时新建一个
// 返回值:
//
//	*Session: 会话
//	bool: 是否新建
func (r *Registry) GetOrCreate(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		return s, false
	}

	s := NewSession(uuid.NewString(), r.opts)
	r.sessions[s.ID()] = s
	return s, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Expire 删除超过 idle 没有活动的会话，返回删除数量
func (r *Registry) Expire(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, s := range r.sessions {
		if s.LastSeen().Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}
