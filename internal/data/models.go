package data

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// MessageType distinguishes text messages from file attachments.
type MessageType string

const (
	TypeText MessageType = "text"
	TypeFile MessageType = "file"
)

// Message maps to the messages collection. Records are immutable once saved.
// Optional fields are pointers so that they encode as null in JSON and are
// omitted from the stored document.
type Message struct {
	ID            bson.ObjectID `bson:"_id,omitempty" json:"id"`
	SenderEmail   string        `bson:"sender_email" json:"senderEmail"`
	ReceiverEmail string        `bson:"receiver_email" json:"receiverEmail"`
	MessageText   *string       `bson:"message_text,omitempty" json:"messageText"`
	Type          MessageType   `bson:"type" json:"type"`
	FileURL       *string       `bson:"file_url,omitempty" json:"fileUrl"`
	OriginalName  *string       `bson:"original_name,omitempty" json:"originalname"`
	MimeType      *string       `bson:"mime_type,omitempty" json:"mimetype"`
	Timestamp     time.Time     `bson:"timestamp" json:"timestamp"`
}

// Text returns the message body or "" for file messages.
func (m *Message) Text() string {
	if m.MessageText == nil {
		return ""
	}
	return *m.MessageText
}

// ChatPartner is the latest message exchanged with one conversation partner.
type ChatPartner struct {
	Email         string    `bson:"_id" json:"email"`
	LastMessage   string    `bson:"last_message" json:"lastMessage"`
	LastMessageAt time.Time `bson:"last_message_at" json:"lastMessageAt"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
