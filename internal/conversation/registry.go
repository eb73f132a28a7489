package conversation

import (
	"slices"
	"sync"

	"github.com/xiaozhi-esp32-server/streamtts/internal/llm"
)

// Profile 是某个用户的合成与对话设置
type Profile struct {
	Voice        string
	Speed        float64
	Emotion      string
	DeepThinking bool

	// History 不含系统提示，按时间顺序排列
	History []llm.Message
}

// Registry 按用户 ID 保存 Profile。首次访问时以默认值创建，只有 Clear 会删除。
type Registry struct {
	mu           sync.Mutex
	profiles     map[string]*Profile
	defaults     Profile
	systemPrompt string
	maxTurns     int
}

// NewRegistry 创建注册表；maxTurns 为保留的最近对话轮数，<= 0 时取 10
func NewRegistry(defaults Profile, systemPrompt string, maxTurns int) *Registry {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	defaults.History = nil
	return &Registry{
		profiles:     make(map[string]*Profile),
		defaults:     defaults,
		systemPrompt: systemPrompt,
		maxTurns:     maxTurns,
	}
}

func (r *Registry) lookup(userID string) *Profile {
	p, ok := r.profiles[userID]
	if !ok {
		cp := r.defaults
		p = &cp
		r.profiles[userID] = p
	}
	return p
}

// Get 返回用户设置的快照
func (r *Registry) Get(userID string) Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return snapshot(r.lookup(userID))
}

// Update 在锁内修改用户设置并返回修改后的快照
func (r *Registry) Update(userID string, fn func(*Profile)) Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.lookup(userID)
	fn(p)
	r.trim(p)
	return snapshot(p)
}

// AppendExchange 记录一轮对话
func (r *Registry) AppendExchange(userID, userText, assistantText string) {
	r.Update(userID, func(p *Profile) {
		p.History = append(p.History,
			llm.Message{Role: llm.RoleUser, Content: userText},
			llm.Message{Role: llm.RoleAssistant, Content: assistantText},
		)
	})
}

// Messages 构造发给 LLM 的消息：系统提示、历史、本轮用户输入
func (r *Registry) Messages(userID, userText string) []llm.Message {
	r.mu.Lock()
	history := slices.Clone(r.lookup(userID).History)
	r.mu.Unlock()

	msgs := make([]llm.Message, 0, len(history)+2)
	if r.systemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: r.systemPrompt})
	}
	msgs = append(msgs, history...)
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: userText})
}

// Clear 删除用户的全部状态，返回之前是否存在
func (r *Registry) Clear(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.profiles[userID]
	delete(r.profiles, userID)
	return ok
}

// Len 返回当前保存的用户数
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.profiles)
}

// trim 只保留最近 maxTurns 轮（每轮一问一答）
func (r *Registry) trim(p *Profile) {
	if limit := r.maxTurns * 2; len(p.History) > limit {
		p.History = slices.Clone(p.History[len(p.History)-limit:])
	}
}

func snapshot(p *Profile) Profile {
	cp := *p
	cp.History = slices.Clone(p.History)
	return cp
}
