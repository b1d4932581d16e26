package history

import (
	"context"

	"github.com/dotsetgreg/dotchat/pkg/providers"
)

// StoredMessage is one transcript row.
type StoredMessage struct {
	ID         int64
	SessionID  string
	Role       string
	Content    string
	ToolCallID string
	CreatedAt  int64 // unix seconds
}

// Store records the messages of a session in order.
type Store interface {
	AppendMessage(ctx context.Context, sessionID string, msg providers.Message) error
	// UpdateLastContent rewrites the content of the session's most
	// recent message with the given role, for assistant messages that
	// grow a segment after a tool result lands.
	UpdateLastContent(ctx context.Context, sessionID, role, content string) error
	Messages(ctx context.Context, sessionID string) ([]StoredMessage, error)
	Sessions(ctx context.Context) ([]string, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Close() error
}
