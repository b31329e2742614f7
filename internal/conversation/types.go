package conversation

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrMemoryNotFound is returned when no memory exists for a session
	ErrMemoryNotFound = errors.New("conversation memory not found")

	// ErrMemoryExpired is returned when a session's memory has expired
	ErrMemoryExpired = errors.New("conversation memory expired")

	// ErrInvalidMemory is returned when stored memory data is invalid
	ErrInvalidMemory = errors.New("invalid conversation memory")
)

// MaxRecentMessages bounds the per-session message window.
const MaxRecentMessages = 20

// entityWindow is how many trailing messages the fallback entity scan reads.
const entityWindow = 3

// EntityType identifies what kind of thing a conversation turn is about.
type EntityType string

const (
	EntityVessel    EntityType = "vessel"
	EntityCompany   EntityType = "company"
	EntityEquipment EntityType = "equipment"
	EntityUnknown   EntityType = "unknown"
)

// Memory is the per-session conversation state. It is owned by the caller:
// the decision pipeline reads it, and only the turn-update path mutates it.
type Memory struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id,omitempty"`
	TenantID  string    `json:"tenant_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// RecentMessages is the bounded turn window, oldest first.
	RecentMessages []Message `json:"recent_messages"`

	// Accumulated knowledge. Entity slices keep discovery order: updating an
	// existing name edits it in place and does not move it.
	Features  []string        `json:"features,omitempty"`
	Vessels   []VesselEntity  `json:"vessels,omitempty"`
	Companies []CompanyEntity `json:"companies,omitempty"`

	UserIntent string `json:"user_intent,omitempty"`
	Summary    string `json:"summary,omitempty"`
}

// Message is one turn in the session history.
type Message struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// VesselEntity is a vessel the conversation has discussed.
type VesselEntity struct {
	Name    string            `json:"name"`
	IMO     string            `json:"imo,omitempty"`
	Type    string            `json:"type,omitempty"` // e.g. "bulk carrier"
	Spec    map[string]string `json:"spec,omitempty"`
	AddedAt time.Time         `json:"added_at"`
}

// CompanyEntity is an owner/operator/manager the conversation has discussed.
type CompanyEntity struct {
	Name    string    `json:"name"`
	Role    string    `json:"role,omitempty"` // "owner", "operator", "manager"
	AddedAt time.Time `json:"added_at"`
}

// ActiveEntity is the entity the current turn is implicitly about. It is
// derived on demand and never persisted.
type ActiveEntity struct {
	Name string            `json:"name"`
	Type EntityType        `json:"type"`
	IMO  string            `json:"imo,omitempty"`
	Spec map[string]string `json:"spec,omitempty"`
}

// equipmentNamePattern matches capitalized-word-plus-number names like
// "Dynamic 17" or "Caterpillar 3512" in free text.
var equipmentNamePattern = regexp.MustCompile(`\b([A-Z][A-Za-z]+(?:\s+[A-Z][A-Za-z]+)?)\s+(\d+)\b`)

// NewMemory creates an empty memory for a session.
func NewMemory(sessionID string, ttl time.Duration) *Memory {
	now := time.Now()
	return &Memory{
		SessionID: sessionID,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// IsExpired reports whether the memory's TTL has passed.
func (m *Memory) IsExpired() bool {
	return time.Now().After(m.ExpiresAt)
}

// AddMessage appends a turn and trims the window to MaxRecentMessages.
func (m *Memory) AddMessage(role, content string) {
	m.RecentMessages = append(m.RecentMessages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	if len(m.RecentMessages) > MaxRecentMessages {
		m.RecentMessages = m.RecentMessages[len(m.RecentMessages)-MaxRecentMessages:]
	}
	m.UpdatedAt = time.Now()
}

// LastMessages returns up to n trailing messages, oldest first.
func (m *Memory) LastMessages(n int) []Message {
	if len(m.RecentMessages) <= n {
		return m.RecentMessages
	}
	return m.RecentMessages[len(m.RecentMessages)-n:]
}

// AddVessel upserts a vessel by name. An existing entry is updated in place
// and keeps its discovery position.
func (m *Memory) AddVessel(v VesselEntity) {
	if v.Name == "" {
		return
	}
	if v.AddedAt.IsZero() {
		v.AddedAt = time.Now()
	}
	for i := range m.Vessels {
		if strings.EqualFold(m.Vessels[i].Name, v.Name) {
			if v.IMO != "" {
				m.Vessels[i].IMO = v.IMO
			}
			if v.Type != "" {
				m.Vessels[i].Type = v.Type
			}
			for k, val := range v.Spec {
				if m.Vessels[i].Spec == nil {
					m.Vessels[i].Spec = make(map[string]string)
				}
				m.Vessels[i].Spec[k] = val
			}
			m.UpdatedAt = time.Now()
			return
		}
	}
	m.Vessels = append(m.Vessels, v)
	m.UpdatedAt = time.Now()
}

// AddCompany upserts a company by name, keeping discovery order.
func (m *Memory) AddCompany(c CompanyEntity) {
	if c.Name == "" {
		return
	}
	if c.AddedAt.IsZero() {
		c.AddedAt = time.Now()
	}
	for i := range m.Companies {
		if strings.EqualFold(m.Companies[i].Name, c.Name) {
			if c.Role != "" {
				m.Companies[i].Role = c.Role
			}
			m.UpdatedAt = time.Now()
			return
		}
	}
	m.Companies = append(m.Companies, c)
	m.UpdatedAt = time.Now()
}

// RecordFeature notes a platform feature the conversation touched.
// Duplicates are ignored.
func (m *Memory) RecordFeature(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	for _, f := range m.Features {
		if strings.EqualFold(f, name) {
			return
		}
	}
	m.Features = append(m.Features, name)
	m.UpdatedAt = time.Now()
}

// HasEvaluationIntent reports whether the recorded intent is an
// evaluation/comparison intent.
func (m *Memory) HasEvaluationIntent() bool {
	intent := strings.ToLower(m.UserIntent)
	return strings.Contains(intent, "evaluat") || strings.Contains(intent, "compar")
}

// ActiveEntity derives the entity the conversation is currently about:
// newest vessel, else newest company, else a capitalized-word-plus-number
// match over the last few messages. Returns nil when nothing qualifies.
func (m *Memory) ActiveEntity() *ActiveEntity {
	if m == nil {
		return nil
	}
	if n := len(m.Vessels); n > 0 {
		v := m.Vessels[n-1]
		return &ActiveEntity{Name: v.Name, Type: EntityVessel, IMO: v.IMO, Spec: v.Spec}
	}
	if n := len(m.Companies); n > 0 {
		c := m.Companies[n-1]
		return &ActiveEntity{Name: c.Name, Type: EntityCompany}
	}
	for i := len(m.RecentMessages) - 1; i >= 0 && i >= len(m.RecentMessages)-entityWindow; i-- {
		if match := equipmentNamePattern.FindString(m.RecentMessages[i].Content); match != "" {
			// Sentence-initial articles get captured as part of the name.
			match = strings.TrimPrefix(match, "The ")
			return &ActiveEntity{Name: match, Type: EntityEquipment}
		}
	}
	return nil
}

// ContextSummary returns a short history string for prompt assembly,
// newest-last, trimmed to roughly maxChars.
func (m *Memory) ContextSummary(maxChars int) string {
	var sb strings.Builder
	for i := len(m.RecentMessages) - 1; i >= 0; i-- {
		msg := m.RecentMessages[i]
		line := msg.Role + ": " + msg.Content + "\n"
		if sb.Len()+len(line) > maxChars {
			break
		}
		sb.WriteString(line)
	}
	// Reverse back to chronological order.
	lines := strings.Split(strings.TrimRight(sb.String(), "\n"), "\n")
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return strings.Join(lines, "\n")
}
