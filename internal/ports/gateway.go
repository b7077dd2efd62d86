package ports

import (
	"context"

	"golang-wa-dispatch/internal/domain"
)

// SendRequest is one (recipient, message, optional attachment) unit
// submitted to the gateway. At most one of Attachment / PublicURL is set.
type SendRequest struct {
	Target     string
	Message    string
	Attachment *domain.Attachment
	PublicURL  string
}

// SendResult carries the gateway's verbatim reply. It is captured for audit
// only; the engine never interprets gateway-side success semantics.
type SendResult struct {
	StatusCode int
	Reply      string
}

// MessageGateway abstracts the external messaging transport. A returned
// error means the call itself failed at the transport level; any completed
// HTTP exchange, whatever its status code, is a non-error result.
type MessageGateway interface {
	Send(ctx context.Context, token string, req SendRequest) (SendResult, error)
}
