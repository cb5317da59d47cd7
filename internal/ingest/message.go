package ingest

import (
	"encoding/json"
	"errors"
	"fmt"

	"docchat/ingest/internal/embedding"
)

var ErrInvalidMessage = errors.New("invalid ingest message")

// Message is the queued form of a Request.
type Message struct {
	DocumentKey   string `json:"documentKey"`
	OwnerID       string `json:"ownerId"`
	Credential    string `json:"embeddingCredential"`
	Resume        bool   `json:"resume,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func NewMessage(req Request, correlationID string) Message {
	return Message{
		DocumentKey:   req.DocumentKey,
		OwnerID:       req.OwnerID,
		Credential:    req.Credential.Reveal(),
		Resume:        req.Resume,
		CorrelationID: correlationID,
	}
}

func DecodeMessage(body []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if m.DocumentKey == "" || m.OwnerID == "" {
		return Message{}, fmt.Errorf("%w: documentKey and ownerId are required", ErrInvalidMessage)
	}
	return m, nil
}

func (m Message) Request() Request {
	return Request{
		DocumentKey: m.DocumentKey,
		OwnerID:     m.OwnerID,
		Credential:  embedding.NewCredential(m.Credential),
		Resume:      m.Resume,
	}
}

// Redacted returns the message with the credential removed, for storing
// in the failed job ledger.
func (m Message) Redacted() Message {
	m.Credential = ""
	return m
}
