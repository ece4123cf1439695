package api

import (
	"context"
	"log/slog"

	"github.com/pion/webrtc/v4"

	lanwebrtc "github.com/rescp17/lanrtc/pkg/webrtc"
)

var _ lanwebrtc.Signaler = (*APISignaler)(nil)

// APISignaler is the client-side implementation of the Signaler interface.
// It posts the offer to the receiver's /offer endpoint and hands the answer
// back through WaitForAnswer.
type APISignaler struct {
	apiClient  *Client
	answerChan chan *webrtc.SessionDescription
	errChan    chan error
}

// NewAPISignaler creates a new signaler.
func NewAPISignaler(apiClient *Client) *APISignaler {
	return &APISignaler{
		apiClient:  apiClient,
		answerChan: make(chan *webrtc.SessionDescription, 1),
		errChan:    make(chan error, 1),
	}
}

// SendOffer sends the offer to the receiver. The request is answered in place,
// so a failure is both returned and reported to WaitForAnswer.
func (s *APISignaler) SendOffer(ctx context.Context, offer webrtc.SessionDescription) error {
	answer, err := s.apiClient.PostOffer(ctx, offer)
	if err != nil {
		slog.Error("Failed to exchange offer", "error", err)
		select {
		case s.errChan <- err:
		default:
		}
		return err
	}
	select {
	case s.answerChan <- answer:
	default:
		slog.Warn("Dropping answer, a previous one was never consumed")
	}
	return nil
}

// WaitForAnswer blocks until the answer is received or the context is cancelled.
func (s *APISignaler) WaitForAnswer(ctx context.Context) (*webrtc.SessionDescription, error) {
	select {
	case answer := <-s.answerChan:
		return answer, nil
	case err := <-s.errChan:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
