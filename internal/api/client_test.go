package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(srv.URL, "tok-123", logrus.NewEntry(log))
}

func TestCreateSession(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/sessions", r.URL.Path)
		require.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "Onboarding", req["title"])

		json.NewEncoder(w).Encode(Session{ID: "s1", Title: "Onboarding"})
	}))

	sess, err := c.CreateSession(context.Background(), "Onboarding")
	require.NoError(t, err)
	require.Equal(t, "s1", sess.ID)
}

func TestListSessionsLimit(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "25", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode([]Session{{ID: "a"}, {ID: "b"}})
	}))

	sessions, err := c.ListSessions(context.Background(), 25)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
}

func TestMessagesDecodesWireShape(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sessions/s1/messages", r.URL.Path)
		io.WriteString(w, `[{
			"id": "m1",
			"sessionId": "s1",
			"role": "assistant",
			"content": "See the handbook.",
			"sources": [{"docId": "d1", "title": "Handbook", "relevanceScore": 0.8}],
			"isClarification": true,
			"clarificationType": "scope",
			"clarificationStatus": "pending"
		}]`)
	}))

	msgs, err := c.Messages(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "d1", msgs[0].Sources[0].DocID)
	require.Equal(t, "pending", msgs[0].ClarificationStatus)
}

func TestSessionExpiredOn401(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"token expired"}`, http.StatusUnauthorized)
	}))

	_, err := c.ListSessions(context.Background(), 0)
	var serr *SessionExpiredError
	require.ErrorAs(t, err, &serr)
}

func TestDegradedOn503(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))

	err := c.RateMessage(context.Background(), "m1", 1, "")
	var derr *DegradedError
	require.ErrorAs(t, err, &derr)
}

func TestStatusErrorLeavesHealthUntouched(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"message not found"}`, http.StatusNotFound)
	}))

	err := c.RateMessage(context.Background(), "missing", -1, "")
	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, http.StatusNotFound, serr.Status)
	require.Equal(t, "message not found", serr.Detail)
}

func TestTransportErrorOnRefusedConnection(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	c := New("http://127.0.0.1:1", "", logrus.NewEntry(log))

	_, err := c.ListSessions(context.Background(), 0)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
}

func TestClarificationCallsWrapFailures(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/clarifications/m1/answer":
			w.WriteHeader(http.StatusOK)
		case "/clarifications/m2/skip":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	require.NoError(t, c.AnswerClarification(context.Background(), "m1", "this quarter"))

	err := c.SkipClarification(context.Background(), "m2")
	var cerr *ClarificationError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, "skip", cerr.Op)
	require.Equal(t, "m2", cerr.MessageID)
}

func TestPendingClarifications(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/clarifications/pending-count", r.URL.Path)
		io.WriteString(w, `{"count": 2, "has_overdue": true}`)
	}))

	pc, err := c.PendingClarifications(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, pc.Count)
	require.True(t, pc.HasOverdue)
}

func TestStreamMessageEndToEnd(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sessions/s1/messages", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "hello", req["content"])

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"type\":\"token\",\"content\":\"hi\"}\n\n")
		io.WriteString(w, "data: {\"type\":\"done\",\"message_id\":\"m9\"}\n\n")
	}))

	stream, err := c.StreamMessage(context.Background(), "s1", "hello")
	require.NoError(t, err)
	defer stream.Close()

	ch, err := stream.Next()
	require.NoError(t, err)
	require.Equal(t, TokenChunk{Content: "hi"}, ch)

	ch, err = stream.Next()
	require.NoError(t, err)
	require.Equal(t, DoneChunk{MessageID: "m9"}, ch)
}

func TestStreamMessageStatusFailure(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"forbidden"}`, http.StatusForbidden)
	}))

	_, err := c.StreamMessage(context.Background(), "s1", "hello")
	var serr *SessionExpiredError
	require.ErrorAs(t, err, &serr)
}
