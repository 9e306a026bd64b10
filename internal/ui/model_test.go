package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/jayusctrojan/Empire-sub012/internal/chat"
)

func TestTranscriptMarkdownInterleavesRoles(t *testing.T) {
	msgs := []chat.Message{
		{ID: "u1", Role: chat.RoleUser, Content: "How many vacation days do I get?"},
		{ID: "a1", Role: chat.RoleAssistant, Content: "You accrue 20 days per year."},
		{ID: "u2", Role: chat.RoleUser, Content: "And sick days?"},
		{ID: "a2", Role: chat.RoleAssistant, Content: "Ten, per the handbook."},
	}
	md := transcriptMarkdown(msgs, "")

	youIdx := strings.Index(md, "## You")
	ckoIdx := strings.Index(md, "## CKO")
	if youIdx == -1 || ckoIdx == -1 {
		t.Fatalf("expected both role headers, got:\n%s", md)
	}
	if youIdx > ckoIdx {
		t.Fatalf("user turn should come first:\n%s", md)
	}
	if strings.Count(md, "## You") != 2 || strings.Count(md, "## CKO") != 2 {
		t.Fatalf("expected two turns per role:\n%s", md)
	}
}

func TestTranscriptMarkdownStreamingPlaceholder(t *testing.T) {
	msgs := []chat.Message{
		{ID: "u1", Role: chat.RoleUser, Content: "hello"},
		{ID: "ph", Role: chat.RoleAssistant, Streaming: true},
	}
	md := transcriptMarkdown(msgs, "Searching documents")
	if !strings.Contains(md, "_Searching documents..._") {
		t.Fatalf("expected phase placeholder, got:\n%s", md)
	}

	md = transcriptMarkdown(msgs, "")
	if !strings.Contains(md, "_Thinking..._") {
		t.Fatalf("expected default placeholder, got:\n%s", md)
	}

	msgs[1].Content = "Partial answer"
	md = transcriptMarkdown(msgs, "Searching documents")
	if !strings.Contains(md, "Partial answer ▌") {
		t.Fatalf("expected cursor after partial content, got:\n%s", md)
	}
	if strings.Contains(md, "Searching documents") {
		t.Fatalf("phase label should disappear once tokens arrive:\n%s", md)
	}
}

func TestTranscriptMarkdownSourcesAndActions(t *testing.T) {
	msgs := []chat.Message{
		{
			ID: "a1", Role: chat.RoleAssistant, Content: "See the policy.",
			Sources: []chat.Source{
				{Title: "Employee Handbook", RelevanceScore: 0.91, PageNumber: 12},
				{Title: "Leave Policy"},
			},
			Actions: []chat.Action{{Name: "search_documents"}},
		},
	}
	md := transcriptMarkdown(msgs, "")
	if !strings.Contains(md, "1. Employee Handbook (score 0.91, p.12)") {
		t.Fatalf("missing annotated source:\n%s", md)
	}
	if !strings.Contains(md, "2. Leave Policy\n") {
		t.Fatalf("bare source should carry no parenthetical:\n%s", md)
	}
	if !strings.Contains(md, "**Actions**: `search_documents`") {
		t.Fatalf("missing action list:\n%s", md)
	}
}

func TestTranscriptMarkdownClarificationBadge(t *testing.T) {
	msgs := []chat.Message{
		{
			ID: "a1", Role: chat.RoleAssistant, Content: "Which quarter do you mean?",
			IsClarification:     true,
			ClarificationType:   "disambiguation",
			ClarificationStatus: chat.ClarificationAnswered,
			ClarificationAnswer: "Q3",
		},
	}
	md := transcriptMarkdown(msgs, "")
	if !strings.Contains(md, "(clarification: disambiguation, answered)") {
		t.Fatalf("missing clarification badge:\n%s", md)
	}
	if !strings.Contains(md, "> Answered: Q3") {
		t.Fatalf("missing answer quote:\n%s", md)
	}

	msgs[0].ClarificationStatus = chat.ClarificationAutoSkipped
	msgs[0].ClarificationAnswer = ""
	md = transcriptMarkdown(msgs, "")
	if !strings.Contains(md, "auto skipped") {
		t.Fatalf("status underscores should read as words:\n%s", md)
	}
}

func TestTranscriptMarkdownRatingMarker(t *testing.T) {
	msgs := []chat.Message{
		{ID: "a1", Role: chat.RoleAssistant, Content: "answer", Rating: 1},
		{ID: "a2", Role: chat.RoleAssistant, Content: "other", Rating: -1},
	}
	md := transcriptMarkdown(msgs, "")
	if !strings.Contains(md, "[rated +]") || !strings.Contains(md, "[rated -]") {
		t.Fatalf("missing rating markers:\n%s", md)
	}
}

func TestSessionItemLabels(t *testing.T) {
	i := sessionItem{s: chat.Session{
		ID:                    "sess-1",
		Title:                 "Benefits questions",
		MessageCount:          6,
		PendingClarifications: 2,
		LastMessageAt:         time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC),
	}}
	if i.Title() != "Benefits questions" {
		t.Fatalf("unexpected title %q", i.Title())
	}
	desc := i.Description()
	if !strings.Contains(desc, "6 msgs") || !strings.Contains(desc, "clar:2") {
		t.Fatalf("unexpected description %q", desc)
	}

	untitled := sessionItem{s: chat.Session{ID: "sess-2"}}
	if untitled.Title() != "sess-2" {
		t.Fatalf("untitled session should fall back to id, got %q", untitled.Title())
	}
}

func TestShorten(t *testing.T) {
	if got := shorten("short", 10); got != "short" {
		t.Fatalf("got %q", got)
	}
	if got := shorten("a much longer string than fits", 12); got != "a much lo..." {
		t.Fatalf("got %q", got)
	}
	if got := shorten("  padded  ", 10); got != "padded" {
		t.Fatalf("got %q", got)
	}
}

func TestSendFailedStatus(t *testing.T) {
	retry := chat.NewRetryCoordinator()
	retry.Offer("hello")

	s := sendFailedStatus(&apiDegraded{}, retry)
	if !strings.Contains(s, "r to retry") || !strings.Contains(s, "3 left") {
		t.Fatalf("unexpected status %q", s)
	}

	retry.ClearOnSuccess()
	s = sendFailedStatus(nil, retry)
	if strings.Contains(s, "retry") {
		t.Fatalf("no retry hint without an offer: %q", s)
	}
}

// apiDegraded stands in for a server overload error without opening a
// real connection.
type apiDegraded struct{}

func (*apiDegraded) Error() string { return "degraded" }
