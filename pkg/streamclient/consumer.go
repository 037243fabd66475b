package streamclient

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"
)

// Consumer runs one streaming exchange end to end: optimistic list insertion,
// delta accumulation, and placeholder reconciliation.
type Consumer struct {
	client *Client
}

// NewConsumer creates a consumer over the given client.
func NewConsumer(client *Client) *Consumer {
	return &Consumer{client: client}
}

// Run submits a message and reduces the stream into the display list. After
// every change onChange is invoked with the current list, if non-nil. The
// final list is returned; a nil error means the stream ended, possibly with
// partial text after a connection drop, which matches the relay's
// finalize-on-disconnect policy. An in-band relay failure is returned as a
// *StreamError after the placeholder has been reconciled.
func (c *Consumer) Run(ctx context.Context, req *SendRequest, list []DisplayMessage, onChange func([]DisplayMessage)) ([]DisplayMessage, error) {
	placeholderID := uuid.New().String()

	apply := func(ev Event) {
		list = Reduce(list, ev)
		if onChange != nil {
			onChange(list)
		}
	}

	apply(Submitted{
		UserMessageID: uuid.New().String(),
		PlaceholderID: placeholderID,
		Content:       req.Content,
	})

	stream, err := c.client.Stream(ctx, req)
	if err != nil {
		apply(Failed{PlaceholderID: placeholderID})
		return list, err
	}
	defer stream.Close()

	gotDelta := false
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			// A drop after partial deltas reads the same as a clean end; the
			// relay persisted the same partial text server-side.
			if gotDelta {
				apply(Failed{PlaceholderID: placeholderID})
				return list, nil
			}
			apply(Failed{PlaceholderID: placeholderID})
			return list, errors.New("stream ended before any content")
		}

		switch e := ev.(type) {
		case Delta:
			gotDelta = true
			apply(DeltaReceived{PlaceholderID: placeholderID, Content: e.Content})
		case Final:
			apply(Finalized{PlaceholderID: placeholderID, MessageID: e.ID, Content: e.Content})
			return list, nil
		case *StreamError:
			apply(Failed{PlaceholderID: placeholderID})
			return list, e
		}
	}
}
