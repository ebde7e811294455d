package session

import (
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/chaos-io/bgremover/ingest"
	"github.com/chaos-io/bgremover/util"
)

var ErrNotFound = errors.New("session not found")

// Manager 会话注册表，定时清理长时间未操作的会话
type Manager struct {
	deps    Deps
	idleTTL time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
	cron     *cron.Cron
}

func NewManager(deps Deps, idleTTL time.Duration) *Manager {
	return &Manager{
		deps:     deps,
		idleTTL:  idleTTL,
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Create(asset *ingest.Asset) *Session {
	s := New(ksuid.New().String(), m.deps, asset)

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	s.Close()
	return nil
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep 关闭空闲超过 idleTTL 的会话，返回关闭数量
func (m *Manager) Sweep(now time.Time) int {
	if m.idleTTL <= 0 {
		return 0
	}

	var expired []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if now.Sub(s.LastAccess()) > m.idleTTL {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.Close()
	}
	if len(expired) > 0 {
		util.Logger.Info("idle sessions swept", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// StartSweeper 按 cron 表达式（如 "@every 5m"）定时清理
func (m *Manager) StartSweeper(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { m.Sweep(time.Now()) }); err != nil {
		return err
	}
	c.Start()

	m.mu.Lock()
	m.cron = c
	m.mu.Unlock()
	return nil
}

// Close 停止定时任务并关闭全部会话
func (m *Manager) Close() {
	m.mu.Lock()
	c := m.cron
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	for _, s := range sessions {
		s.Close()
	}
}
