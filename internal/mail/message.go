package mail

import (
	"context"
	"errors"
)

// Message is the outbound message surface this core touches: headers
// and metadata stamped before the underlying transport sends it.
type Message struct {
	From    string
	To      []string
	Subject string

	// CorrelationID is generated on first tagging and reused when the
	// caller pre-assigns one.
	CorrelationID string

	Headers  map[string]string
	Metadata map[string]string
}

func (m *Message) SetHeader(name, value string) {
	if m.Headers == nil {
		m.Headers = map[string]string{}
	}
	m.Headers[name] = value
}

func (m *Message) SetMetadata(name, value string) {
	if m.Metadata == nil {
		m.Metadata = map[string]string{}
	}
	m.Metadata[name] = value
}

// Transport is the provider's sending path, external to this core.
type Transport interface {
	Send(ctx context.Context, msg *Message) error
}

// ErrMissingSendResource is the transport's signal that the provider
// rejected the send because a tracking resource (e.g. the configuration
// set routed via header) does not exist.
var ErrMissingSendResource = errors.New("provider send resource missing")
