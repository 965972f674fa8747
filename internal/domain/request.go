package domain

import (
	"context"
	"fmt"
)

// ObfuscationRequest is the payload collaborators send over the queue.
type ObfuscationRequest struct {
	RequestID string `json:"request_id"`
	Name      string `json:"name"`
	// Content is base64 in JSON.
	Content []byte `json:"content"`
}

// Validate checks the fields every transport requires.
func (r *ObfuscationRequest) Validate() error {
	if r.RequestID == "" {
		return fmt.Errorf("%w: request_id is required", ErrInvalidRequest)
	}
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	return nil
}

// JobMessage wraps a queued request with its transport acknowledgement hooks.
type JobMessage struct {
	Request *ObfuscationRequest
	Ack     func() error
	Nack    func(requeue bool) error
	// Reply sends the result back to the requester. It is nil when the
	// delivery carried no reply address.
	Reply func(ctx context.Context, result *InvocationResult) error
}
