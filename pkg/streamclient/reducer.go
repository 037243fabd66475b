package streamclient

// DisplayMessage is one entry in the ordered message list a client renders.
// It is transient view state; the server's persisted transcript is
// authoritative and a reload rebuilds the list from it alone.
type DisplayMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Streaming bool   `json:"streaming"`
}

// Event is one typed mutation of the display list. The concrete types below
// are the only implementations.
type Event interface {
	isEvent()
}

// Submitted inserts the user's own message and an empty assistant
// placeholder flagged streaming.
type Submitted struct {
	UserMessageID string
	PlaceholderID string
	Content       string
}

// DeltaReceived appends one text fragment to the streaming placeholder.
// Deltas are cumulative by append, never full-content snapshots.
type DeltaReceived struct {
	PlaceholderID string
	Content       string
}

// Finalized clears the streaming flag and adopts the persisted message id
// and final content.
type Finalized struct {
	PlaceholderID string
	MessageID     string
	Content       string
}

// Failed ends the stream without a final message. A placeholder that never
// received a delta is removed; one with partial text keeps it, with the
// streaming flag cleared.
type Failed struct {
	PlaceholderID string
}

func (Submitted) isEvent()     {}
func (DeltaReceived) isEvent() {}
func (Finalized) isEvent()     {}
func (Failed) isEvent()        {}

// Reduce applies one event to the list and returns the resulting list. It is
// a pure function: the input slice is not modified.
func Reduce(list []DisplayMessage, ev Event) []DisplayMessage {
	switch e := ev.(type) {
	case Submitted:
		out := make([]DisplayMessage, 0, len(list)+2)
		out = append(out, list...)
		out = append(out,
			DisplayMessage{ID: e.UserMessageID, Role: "user", Content: e.Content},
			DisplayMessage{ID: e.PlaceholderID, Role: "assistant", Streaming: true},
		)
		return out

	case DeltaReceived:
		out := copyList(list)
		for i := range out {
			if out[i].ID == e.PlaceholderID {
				out[i].Content += e.Content
			}
		}
		return out

	case Finalized:
		out := copyList(list)
		for i := range out {
			if out[i].ID == e.PlaceholderID {
				out[i].ID = e.MessageID
				out[i].Content = e.Content
				out[i].Streaming = false
			}
		}
		return out

	case Failed:
		out := make([]DisplayMessage, 0, len(list))
		for _, msg := range list {
			if msg.ID == e.PlaceholderID {
				if msg.Content == "" {
					continue
				}
				msg.Streaming = false
			}
			out = append(out, msg)
		}
		return out
	}

	return copyList(list)
}

func copyList(list []DisplayMessage) []DisplayMessage {
	out := make([]DisplayMessage, len(list))
	copy(out, list)
	return out
}
