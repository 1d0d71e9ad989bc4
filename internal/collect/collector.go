// Package collect implements the multi-turn parameter collection state
// machine: grouped inputs are prompted for in order, validated, and
// accumulated until every declared group is satisfied.
package collect

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dohr-michael/skillhub/internal/bundle"
	"github.com/dohr-michael/skillhub/internal/events"
)

var (
	// ErrSessionNotFound is returned for unknown or already-destroyed sessions.
	ErrSessionNotFound = errors.New("collection session not found")
	// ErrSessionAbandoned is returned for sessions past their idle timeout
	// or explicitly cancelled; they cannot be resumed.
	ErrSessionAbandoned = errors.New("collection session abandoned")
	// ErrOutOfOrder is returned when a group is submitted before every
	// earlier group has completed.
	ErrOutOfOrder = errors.New("parameter group submitted out of order")
)

// Status is the lifecycle state of a collection session.
type Status string

const (
	StatusCollecting Status = "collecting"
	StatusComplete   Status = "complete"
	StatusAbandoned  Status = "abandoned"
)

// Session tracks one in-progress parameter collection.
type Session struct {
	ID           string
	SkillID      string
	Caller       string
	Status       Status
	GroupIndex   int
	CreatedAt    time.Time
	LastActivity time.Time

	groups      []bundle.ParameterGroup
	groupFields []map[string]any // validated answers, one map per group
}

// Fields flattens the validated answers of all completed groups.
func (s *Session) Fields() map[string]any {
	out := make(map[string]any)
	for _, gf := range s.groupFields {
		for k, v := range gf {
			out[k] = v
		}
	}
	return out
}

// Prompt is what the caller renders to request the next group's fields.
type Prompt struct {
	SessionID   string         `json:"session_id"`
	Group       string         `json:"group"`
	GroupIndex  int            `json:"group_index"`
	TotalGroups int            `json:"total_groups"`
	Fields      []bundle.Field `json:"fields"`
}

// SubmitResult is the outcome of one group submission.
type SubmitResult struct {
	Complete    bool           `json:"complete"`
	Fields      map[string]any `json:"fields,omitempty"`       // set when complete
	Prompt      *Prompt        `json:"prompt,omitempty"`       // set while collecting
	FieldErrors []FieldError   `json:"field_errors,omitempty"` // set on validation failure
}

// Collector is the keyed session registry plus the state machine rules.
type Collector struct {
	mu       sync.Mutex
	sessions map[string]*Session
	timeout  time.Duration
	bus      *events.Bus // optional
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewCollector creates a collector whose sessions expire after the given
// idle timeout. bus may be nil.
func NewCollector(timeout time.Duration, bus *events.Bus) *Collector {
	c := &Collector{
		sessions: make(map[string]*Session),
		timeout:  timeout,
		bus:      bus,
		done:     make(chan struct{}),
	}
	c.wg.Add(1)
	go c.janitor()
	return c
}

// Close stops the expiry janitor.
func (c *Collector) Close() {
	close(c.done)
	c.wg.Wait()
}

// Start opens a session for a skill bundle. Skills declaring no parameter
// groups complete immediately with an empty field set.
func (c *Collector) Start(b *bundle.Bundle, caller string) (*Session, *Prompt, error) {
	spec, err := b.Spec()
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	session := &Session{
		ID:           uuid.NewString(),
		SkillID:      b.Metadata.SkillID,
		Caller:       caller,
		Status:       StatusCollecting,
		CreatedAt:    now,
		LastActivity: now,
		groups:       spec.Parameters,
		groupFields:  make([]map[string]any, len(spec.Parameters)),
	}

	if !spec.HasGroups() {
		// Nothing to collect: the skill takes a flat parameter object,
		// validated at execution time.
		session.Status = StatusComplete
		return session, nil, nil
	}

	c.mu.Lock()
	c.sessions[session.ID] = session
	c.mu.Unlock()

	c.publish(events.EventSessionStarted, session)
	return session, c.promptLocked(session), nil
}

// Prompt returns the next group's field definitions. Idempotent.
func (c *Collector) Prompt(sessionID string) (*Prompt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, err := c.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return c.promptLocked(session), nil
}

// Submit validates one group's answers. groupIndex must be the current
// group, or an earlier one for an explicit correction; a correction drops
// every later group's collected fields.
func (c *Collector) Submit(sessionID string, groupIndex int, answers map[string]any) (*SubmitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, err := c.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	if groupIndex > session.GroupIndex {
		return nil, fmt.Errorf("%w: group %d submitted while group %d is current (session %s)",
			ErrOutOfOrder, groupIndex, session.GroupIndex, sessionID)
	}
	if groupIndex < 0 || groupIndex >= len(session.groups) {
		return nil, fmt.Errorf("group index %d out of range for session %s", groupIndex, sessionID)
	}

	accepted, fieldErrs := validateGroup(session.groups[groupIndex], answers)
	session.LastActivity = time.Now()
	if len(fieldErrs) > 0 {
		// No partial advancement on partial validity.
		return &SubmitResult{FieldErrors: fieldErrs, Prompt: c.promptLocked(session)}, nil
	}

	session.groupFields[groupIndex] = accepted
	if groupIndex < session.GroupIndex {
		// Correction of a prior group invalidates everything collected
		// after it; downstream groups must be resubmitted.
		for i := groupIndex + 1; i < len(session.groupFields); i++ {
			session.groupFields[i] = nil
		}
	}
	session.GroupIndex = groupIndex + 1

	if session.GroupIndex == len(session.groups) {
		session.Status = StatusComplete
		fields := session.Fields()
		delete(c.sessions, sessionID)
		c.publish(events.EventSessionCompleted, session)
		return &SubmitResult{Complete: true, Fields: fields}, nil
	}

	return &SubmitResult{Prompt: c.promptLocked(session)}, nil
}

// Abandon cancels a session explicitly. Idempotent for already-abandoned
// sessions.
func (c *Collector) Abandon(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, ok := c.sessions[sessionID]
	if !ok {
		return fmt.Errorf("abandon %s: %w", sessionID, ErrSessionNotFound)
	}
	if session.Status == StatusAbandoned {
		return nil
	}
	session.Status = StatusAbandoned
	c.publish(events.EventSessionAbandoned, session)
	return nil
}

// Active returns the number of live collecting sessions.
func (c *Collector) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.sessions {
		if s.Status == StatusCollecting {
			n++
		}
	}
	return n
}

// lookup finds a session and applies lazy expiry. Caller holds the lock.
func (c *Collector) lookup(sessionID string) (*Session, error) {
	session, ok := c.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	if session.Status == StatusAbandoned {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionAbandoned)
	}
	if c.timeout > 0 && time.Since(session.LastActivity) > c.timeout {
		session.Status = StatusAbandoned
		c.publish(events.EventSessionAbandoned, session)
		return nil, fmt.Errorf("session %s idle past %s: %w", sessionID, c.timeout, ErrSessionAbandoned)
	}
	return session, nil
}

func (c *Collector) promptLocked(session *Session) *Prompt {
	if session.GroupIndex >= len(session.groups) {
		return nil
	}
	group := session.groups[session.GroupIndex]
	return &Prompt{
		SessionID:   session.ID,
		Group:       group.Group,
		GroupIndex:  session.GroupIndex,
		TotalGroups: len(session.groups),
		Fields:      group.Fields,
	}
}

// janitor purges abandoned and idle sessions in the background.
func (c *Collector) janitor() {
	defer c.wg.Done()

	interval := c.timeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

func (c *Collector) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, session := range c.sessions {
		if session.Status == StatusAbandoned {
			delete(c.sessions, id)
			continue
		}
		if c.timeout > 0 && time.Since(session.LastActivity) > c.timeout {
			session.Status = StatusAbandoned
			c.publish(events.EventSessionAbandoned, session)
			delete(c.sessions, id)
			slog.Debug("collection session expired", "session", id, "skill", session.SkillID)
		}
	}
}

func (c *Collector) publish(t events.EventType, session *Session) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.NewEvent(t, events.SourceCollector, map[string]any{
		"session_id": session.ID,
		"skill_id":   session.SkillID,
	}))
}
