package chat

import "testing"

func TestStoreAppendPreservesOrder(t *testing.T) {
	s := NewStore()
	s.Append(Message{ID: "a", Role: RoleUser, Content: "hi"})
	s.Append(Message{ID: "b", Role: RoleAssistant, Streaming: true})

	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].ID != "a" || msgs[1].ID != "b" {
		t.Fatalf("unexpected order: %s, %s", msgs[0].ID, msgs[1].ID)
	}
}

func TestStoreUpdateByIDTouchesOnlyChosenFields(t *testing.T) {
	s := NewStore()
	s.Append(Message{ID: "m", Role: RoleAssistant, Content: "old", Sources: []Source{{DocID: "d1"}}})

	ok := s.UpdateByID("m", func(m *Message) { m.Content = "new" })
	if !ok {
		t.Fatal("update should find the message")
	}
	got, _ := s.Get("m")
	if got.Content != "new" {
		t.Fatalf("content = %q", got.Content)
	}
	if len(got.Sources) != 1 || got.Sources[0].DocID != "d1" {
		t.Fatal("sources should be untouched")
	}

	if s.UpdateByID("missing", func(m *Message) {}) {
		t.Fatal("update of unknown id should report false")
	}
}

func TestStoreReplaceIdentity(t *testing.T) {
	s := NewStore()
	s.Append(Message{ID: "u1", Role: RoleUser, Content: "q"})
	s.Append(Message{ID: "tmp", Role: RoleAssistant, Streaming: true})

	ok := s.ReplaceIdentity("tmp", "srv-1", Final{Content: "answer", Sources: []Source{{DocID: "d"}}})
	if !ok {
		t.Fatal("replace should succeed")
	}
	if _, found := s.Get("tmp"); found {
		t.Fatal("old id should be gone")
	}
	got, found := s.Get("srv-1")
	if !found {
		t.Fatal("new id should resolve")
	}
	if got.Streaming {
		t.Fatal("finalized message should not be streaming")
	}
	if got.Content != "answer" {
		t.Fatalf("content = %q", got.Content)
	}

	msgs := s.Messages()
	if msgs[1].ID != "srv-1" {
		t.Fatalf("finalized message moved: order %s, %s", msgs[0].ID, msgs[1].ID)
	}
}

func TestStoreReplaceIdentityKeepsClientIDWhenServerOmitsOne(t *testing.T) {
	s := NewStore()
	s.Append(Message{ID: "tmp", Role: RoleAssistant, Streaming: true})

	if !s.ReplaceIdentity("tmp", "", Final{Content: "done"}) {
		t.Fatal("replace should succeed")
	}
	got, found := s.Get("tmp")
	if !found {
		t.Fatal("client id should survive")
	}
	if got.Content != "done" || got.Streaming {
		t.Fatalf("got %+v", got)
	}
}

func TestStoreReplaceAll(t *testing.T) {
	s := NewStore()
	s.Append(Message{ID: "old"})
	s.ReplaceAll([]Message{{ID: "n1"}, {ID: "n2"}})

	if s.Len() != 2 {
		t.Fatalf("len = %d", s.Len())
	}
	if _, found := s.Get("old"); found {
		t.Fatal("old content should be gone")
	}
}

func TestStoreLastPendingClarification(t *testing.T) {
	s := NewStore()
	s.Append(Message{ID: "c1", IsClarification: true, ClarificationStatus: ClarificationSkipped})
	s.Append(Message{ID: "c2", IsClarification: true, ClarificationStatus: ClarificationPending})
	s.Append(Message{ID: "m", Role: RoleAssistant})

	got, found := s.LastPendingClarification()
	if !found || got.ID != "c2" {
		t.Fatalf("found=%v id=%s", found, got.ID)
	}
}

func TestStoreLastAssistantSkipsStreaming(t *testing.T) {
	s := NewStore()
	s.Append(Message{ID: "a1", Role: RoleAssistant, Content: "done"})
	s.Append(Message{ID: "a2", Role: RoleAssistant, Streaming: true})

	got, found := s.LastAssistant()
	if !found || got.ID != "a1" {
		t.Fatalf("found=%v id=%s", found, got.ID)
	}
}
