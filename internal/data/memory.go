package data

import (
	"context"
	"sort"
	"sync"

	"github.com/PaulBabatuyi/marketchat/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// MemoryStore keeps messages in process memory with the same ordering and
// normalization rules as MessagesStore. It backs tests and store.driver=memory.
type MemoryStore struct {
	mu       sync.RWMutex
	messages []Message
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// SaveMessage appends a copy of msg and returns it with a fresh ID.
func (s *MemoryStore) SaveMessage(ctx context.Context, msg *Message) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc := *msg
	doc.ID = bson.NewObjectID()
	doc.SenderEmail = normalize.Email(doc.SenderEmail)
	doc.ReceiverEmail = normalize.Email(doc.ReceiverEmail)

	s.mu.Lock()
	s.messages = append(s.messages, doc)
	s.mu.Unlock()

	out := doc
	return &out, nil
}

// GetConversation returns the messages between user1 and user2 oldest first.
// Messages with equal timestamps keep insertion order.
func (s *MemoryStore) GetConversation(ctx context.Context, user1, user2 string) ([]*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := normalize.Pair(user1, user2)

	s.mu.RLock()
	out := []*Message{}
	for i := range s.messages {
		m := s.messages[i]
		if normalize.Pair(m.SenderEmail, m.ReceiverEmail) == key {
			out = append(out, &m)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// GetRecentChats mirrors the MongoDB aggregation in MessagesStore.
func (s *MemoryStore) GetRecentChats(ctx context.Context, userEmail string, limit int64) ([]*ChatPartner, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultPartnerLimit
	}
	userEmail = normalize.Email(userEmail)

	s.mu.RLock()
	byPartner := map[string]*ChatPartner{}
	for _, m := range s.messages {
		var partner string
		switch userEmail {
		case m.SenderEmail:
			partner = m.ReceiverEmail
		case m.ReceiverEmail:
			partner = m.SenderEmail
		default:
			continue
		}

		last := m.Text()
		if m.MessageText == nil && m.OriginalName != nil {
			last = *m.OriginalName
		}
		p, ok := byPartner[partner]
		if !ok {
			p = &ChatPartner{Email: partner}
			byPartner[partner] = p
		}
		if !m.Timestamp.Before(p.LastMessageAt) {
			p.LastMessage = last
			p.LastMessageAt = m.Timestamp
		}
	}
	s.mu.RUnlock()

	partners := make([]*ChatPartner, 0, len(byPartner))
	for _, p := range byPartner {
		partners = append(partners, p)
	}
	sort.Slice(partners, func(i, j int) bool {
		if partners[i].LastMessageAt.Equal(partners[j].LastMessageAt) {
			return partners[i].Email < partners[j].Email
		}
		return partners[i].LastMessageAt.After(partners[j].LastMessageAt)
	})
	if int64(len(partners)) > limit {
		partners = partners[:limit]
	}
	return partners, nil
}
