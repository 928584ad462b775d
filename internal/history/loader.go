// Package history fetches paginated conversation history.
package history

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/message"
)

// DefaultPageSize is used when the loader is built with a non-positive limit.
const DefaultPageSize = 50

// Source is the REST endpoint behind the loader.
type Source interface {
	Messages(ctx context.Context, peer string, limit int, before time.Time) (api.HistoryPage, error)
}

// Page is one normalized history page.
type Page struct {
	Messages []message.Message
	HasMore  bool
}

// Loader fetches history pages.
type Loader struct {
	src    Source
	limit  int
	logger *zap.Logger
}

// NewLoader creates a loader returning pages of up to limit messages.
func NewLoader(src Source, limit int, logger *zap.Logger) *Loader {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{src: src, limit: limit, logger: logger.Named("history")}
}

// FetchPage returns the newest page for peer when before is zero, otherwise
// the page of messages strictly older than before. Every message comes back
// as sent. On failure the error is logged and an empty page without more is
// returned alongside it.
func (l *Loader) FetchPage(ctx context.Context, peer string, before time.Time) (Page, error) {
	raw, err := l.src.Messages(ctx, peer, l.limit, before)
	if err != nil {
		l.logger.Error("history fetch failed",
			zap.String("peer", peer),
			zap.Time("before", before),
			zap.Error(err),
		)
		return Page{}, err
	}

	page := Page{
		Messages: make([]message.Message, 0, len(raw.Messages)),
		HasMore:  raw.HasMore,
	}
	for _, m := range raw.Messages {
		page.Messages = append(page.Messages, message.Message{
			ID:        m.ID,
			Text:      m.Text,
			Sender:    m.Sender,
			Recipient: m.Recipient,
			CreatedAt: m.CreatedAt,
			Status:    message.StatusSent,
		})
	}
	l.logger.Debug("history page",
		zap.String("peer", peer),
		zap.Int("count", len(page.Messages)),
		zap.Bool("has_more", page.HasMore),
	)
	return page, nil
}
