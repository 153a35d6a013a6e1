package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/capitalize-ai/clarification-engine/internal/model"
)

const (
	// SubjectPrefix is the prefix for all clarification subjects.
	SubjectPrefix = "clarify"
)

// RequestSubject returns the subject a clarification request is pushed on.
func RequestSubject(conversationID string) string {
	return fmt.Sprintf("%s.%s.request", SubjectPrefix, conversationID)
}

// ResponseSubject returns the subject clarification responses arrive on.
func ResponseSubject(conversationID string) string {
	return fmt.Sprintf("%s.%s.response", SubjectPrefix, conversationID)
}

// PresentationChannel pushes clarification requests to the UI and delivers
// responses back. One-way in each direction; the engine never polls.
type PresentationChannel struct {
	client *Client
}

// NewPresentationChannel creates a presentation channel over the client.
func NewPresentationChannel(client *Client) *PresentationChannel {
	return &PresentationChannel{client: client}
}

// Present pushes a clarification request to the UI.
func (p *PresentationChannel) Present(ctx context.Context, req *model.ClarificationRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal clarification request: %w", err)
	}
	if err := p.client.Conn().Publish(RequestSubject(req.ConversationID), data); err != nil {
		return fmt.Errorf("failed to publish clarification request: %w", err)
	}
	return nil
}

// ResponseHandler receives a delivered clarification response.
type ResponseHandler func(ctx context.Context, resp *model.ClarificationResponse)

// SubscribeResponses delivers incoming clarification responses for all
// conversations to the handler.
func (p *PresentationChannel) SubscribeResponses(ctx context.Context, handler ResponseHandler) (*nats.Subscription, error) {
	subject := fmt.Sprintf("%s.*.response", SubjectPrefix)

	sub, err := p.client.Conn().Subscribe(subject, func(msg *nats.Msg) {
		var resp model.ClarificationResponse
		if err := json.Unmarshal(msg.Data, &resp); err != nil {
			p.client.logger.Warn("dropping unparseable clarification response",
				zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		handler(ctx, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to clarification responses: %w", err)
	}
	return sub, nil
}
