package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

var (
	ErrReceiverBusy    = errors.New("receiver is busy with another transfer")
	ErrNoReceiverURL   = errors.New("receiver url is not set")
	ErrOfferRejected   = errors.New("receiver rejected the offer")
	ErrWrongReceiverID = errors.New("receiver has a different service id")
)

// serviceIDInjector is a custom http.RoundTripper that injects a service ID into each request.
type serviceIDInjector struct {
	serviceID string
	next      http.RoundTripper
}

// RoundTrip intercepts the request, adds the service ID header, and passes it to the next transport.
func (t *serviceIDInjector) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.serviceID != "" {
		req = req.Clone(req.Context())
		req.Header.Set(serviceIDHeader, t.serviceID)
	}
	return t.next.RoundTrip(req)
}

// Client is a stateless HTTP client for communicating with the receiver's API.
type Client struct {
	HttpClient  *http.Client
	receiverURL string
}

// NewClient creates a new API client, configured to automatically inject the
// service ID of the receiver it addresses.
func NewClient(serviceID string) *Client {
	transport := &serviceIDInjector{
		serviceID: serviceID,
		next:      http.DefaultTransport,
	}

	return &Client{
		HttpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

// SetReceiverURL sets the receiver base URL. A bare host:port gets an http scheme.
func (c *Client) SetReceiverURL(receiverURL string) {
	if !strings.Contains(receiverURL, "://") {
		receiverURL = "http://" + receiverURL
	}
	c.receiverURL = strings.TrimSuffix(receiverURL, "/")
}

// PostOffer sends offer to the receiver and returns its answer.
func (c *Client) PostOffer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if c.receiverURL == "" {
		return nil, ErrNoReceiverURL
	}

	body, err := json.Marshal(OfferPayload{Offer: offer})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal offer payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.receiverURL+"/offer", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create offer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send offer: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusServiceUnavailable:
		return nil, ErrReceiverBusy
	case http.StatusForbidden:
		return nil, ErrWrongReceiverID
	default:
		var payload errorPayload
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return nil, fmt.Errorf("%w: %s: %s", ErrOfferRejected, resp.Status, payload.Error)
	}

	var payload AnswerPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode answer: %w", err)
	}
	return &payload.Answer, nil
}
