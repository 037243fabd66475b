package streamclient

import "testing"

func TestReduceSubmitted(t *testing.T) {
	list := Reduce(nil, Submitted{UserMessageID: "u1", PlaceholderID: "p1", Content: "hi"})

	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].Role != "user" || list[0].Content != "hi" {
		t.Errorf("list[0] = %+v, want user hi", list[0])
	}
	if list[1].Role != "assistant" || !list[1].Streaming || list[1].Content != "" {
		t.Errorf("list[1] = %+v, want empty streaming placeholder", list[1])
	}
}

func TestReduceDeltasAppend(t *testing.T) {
	list := Reduce(nil, Submitted{UserMessageID: "u1", PlaceholderID: "p1", Content: "hi"})
	list = Reduce(list, DeltaReceived{PlaceholderID: "p1", Content: "Hel"})
	list = Reduce(list, DeltaReceived{PlaceholderID: "p1", Content: "lo"})

	if list[1].Content != "Hello" {
		t.Errorf("Content = %q, want %q", list[1].Content, "Hello")
	}
	if !list[1].Streaming {
		t.Error("Streaming = false, want true while deltas arrive")
	}
}

func TestReduceFinalized(t *testing.T) {
	list := Reduce(nil, Submitted{UserMessageID: "u1", PlaceholderID: "p1", Content: "hi"})
	list = Reduce(list, DeltaReceived{PlaceholderID: "p1", Content: "Hello"})
	list = Reduce(list, Finalized{PlaceholderID: "p1", MessageID: "m1", Content: "Hello"})

	if list[1].ID != "m1" {
		t.Errorf("ID = %q, want persisted id m1", list[1].ID)
	}
	if list[1].Streaming {
		t.Error("Streaming = true, want cleared")
	}
	if list[1].Content != "Hello" {
		t.Errorf("Content = %q, want %q", list[1].Content, "Hello")
	}
}

func TestReduceFailed(t *testing.T) {
	t.Run("before any delta removes placeholder", func(t *testing.T) {
		list := Reduce(nil, Submitted{UserMessageID: "u1", PlaceholderID: "p1", Content: "hi"})
		list = Reduce(list, Failed{PlaceholderID: "p1"})

		if len(list) != 1 {
			t.Fatalf("len = %d, want 1", len(list))
		}
		if list[0].Role != "user" {
			t.Errorf("list[0].Role = %q, want user", list[0].Role)
		}
	})

	t.Run("after partial deltas keeps text", func(t *testing.T) {
		list := Reduce(nil, Submitted{UserMessageID: "u1", PlaceholderID: "p1", Content: "hi"})
		list = Reduce(list, DeltaReceived{PlaceholderID: "p1", Content: "Hel"})
		list = Reduce(list, Failed{PlaceholderID: "p1"})

		if len(list) != 2 {
			t.Fatalf("len = %d, want 2", len(list))
		}
		if list[1].Content != "Hel" {
			t.Errorf("Content = %q, want partial text kept", list[1].Content)
		}
		if list[1].Streaming {
			t.Error("Streaming = true, want cleared")
		}
	})
}

func TestReduceIsPure(t *testing.T) {
	original := []DisplayMessage{{ID: "m1", Role: "user", Content: "hi"}}
	_ = Reduce(original, DeltaReceived{PlaceholderID: "m1", Content: "x"})

	if original[0].Content != "hi" {
		t.Errorf("input mutated: Content = %q", original[0].Content)
	}
}
