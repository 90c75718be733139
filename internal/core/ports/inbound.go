package ports

import (
	"context"

	"github.com/rialtolabs/ragcore/internal/core/domain"
)

// ConversationService is the inbound contract for one orchestrated user turn.
type ConversationService interface {
	HandleTurn(ctx context.Context, sessionID, query string) domain.TurnResult
}
