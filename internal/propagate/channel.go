package propagate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/benchsync/internal/model"
)

// Message is one broadcast: the outbox entries of one committed local
// mutation (one entry, or many for a bulk write).
type Message struct {
	ID      string              `json:"id"`
	Sender  string              `json:"sender"`
	Entries []model.OutboxEntry `json:"entries"`
}

// Channel is a same-device publish/subscribe transport.
//
// Delivery is at-most-once per message and ordered per sender. Receivers
// must tolerate duplicates and cross-sender reordering.
type Channel interface {
	// Publish broadcasts msg to every current subscriber, including the
	// sender's own subscription.
	Publish(ctx context.Context, msg Message) error

	// Subscribe returns a channel of incoming messages and a cancel
	// function that ends the subscription and closes the channel.
	Subscribe(ctx context.Context) (<-chan Message, func(), error)
}

// EncodeMessage serializes a message for the wire.
func EncodeMessage(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(msg); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// DecodeMessage parses a wire message. Numbers decode as json.Number so
// payloads keep their precision.
func DecodeMessage(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}
