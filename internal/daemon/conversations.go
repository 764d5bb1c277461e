package daemon

import (
	"sort"
	"sync"
	"time"

	"github.com/loopwork/beacon/internal/protocol"
	"github.com/loopwork/beacon/pkg/models"
)

// ConversationKey identifies one conversation: a channel plus the
// adapter's opaque routing ref.
type ConversationKey struct {
	ChannelID models.ChannelID `json:"channelId"`
	Ref       string           `json:"ref"`
}

// Binding ties a conversation to the session serving it.
type Binding struct {
	Key       ConversationKey  `json:"key"`
	SessionID models.SessionID `json:"sessionId"`
	BoundAt   int64            `json:"boundAt"`
}

// Conversations is the in-memory conversation-to-session map. Nothing
// here survives a restart.
type Conversations struct {
	now func() time.Time

	mu       sync.Mutex
	bindings map[ConversationKey]Binding
}

// NewConversations creates an empty map.
func NewConversations(now func() time.Time) *Conversations {
	if now == nil {
		now = time.Now
	}
	return &Conversations{now: now, bindings: make(map[ConversationKey]Binding)}
}

// Bind maps a conversation to a session, replacing any prior binding.
func (c *Conversations) Bind(key ConversationKey, sessionID models.SessionID) Binding {
	b := Binding{Key: key, SessionID: sessionID, BoundAt: c.now().UnixMilli()}
	c.mu.Lock()
	c.bindings[key] = b
	c.mu.Unlock()
	return b
}

// Unbind removes a binding. Unknown keys are an error so operators see
// typos.
func (c *Conversations) Unbind(key ConversationKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.bindings[key]; !ok {
		return protocol.Errorf(protocol.CodeInvalidParams, "conversation %s/%s is not bound", key.ChannelID, key.Ref)
	}
	delete(c.bindings, key)
	return nil
}

// Lookup returns the session bound to a conversation.
func (c *Conversations) Lookup(key ConversationKey) (models.SessionID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.bindings[key]
	return b.SessionID, ok
}

// Get returns the full binding for a conversation.
func (c *Conversations) Get(key ConversationKey) (Binding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.bindings[key]
	return b, ok
}

// List returns every binding, ordered by channel then ref.
func (c *Conversations) List() []Binding {
	c.mu.Lock()
	out := make([]Binding, 0, len(c.bindings))
	for _, b := range c.bindings {
		out = append(out, b)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.ChannelID != out[j].Key.ChannelID {
			return out[i].Key.ChannelID < out[j].Key.ChannelID
		}
		return out[i].Key.Ref < out[j].Key.Ref
	})
	return out
}

// DropSession removes every binding pointing at a session.
func (c *Conversations) DropSession(sessionID models.SessionID) {
	c.mu.Lock()
	for key, b := range c.bindings {
		if b.SessionID == sessionID {
			delete(c.bindings, key)
		}
	}
	c.mu.Unlock()
}
