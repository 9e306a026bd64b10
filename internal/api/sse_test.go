package api

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func streamFrom(t *testing.T, frames string) *Stream {
	t.Helper()
	return newStream(context.Background(), io.NopCloser(strings.NewReader(frames)))
}

func TestStreamParsesChunkSequence(t *testing.T) {
	s := streamFrom(t, ""+
		"event: start\n"+
		"data: {\"type\":\"start\",\"session_id\":\"s1\"}\n\n"+
		"event: phase\n"+
		"data: {\"type\":\"phase\",\"phase\":\"searching\",\"label\":\"Searching knowledge base\"}\n\n"+
		"event: token\n"+
		"data: {\"type\":\"token\",\"content\":\"Hel\"}\n\n"+
		"data: {\"type\":\"token\",\"content\":\"lo\"}\n\n"+
		"data: {\"type\":\"source\",\"source\":{\"doc_id\":\"d1\",\"title\":\"Handbook\",\"relevance_score\":0.92,\"page_number\":3}}\n\n"+
		"data: {\"type\":\"action\",\"action\":{\"action\":\"create_task\",\"params\":{\"name\":\"x\"}}}\n\n"+
		"data: {\"type\":\"done\",\"message_id\":\"srv-9\"}\n\n")

	ch, err := s.Next()
	require.NoError(t, err)
	require.Equal(t, PhaseChunk{Phase: "searching", Label: "Searching knowledge base"}, ch)

	ch, err = s.Next()
	require.NoError(t, err)
	require.Equal(t, TokenChunk{Content: "Hel"}, ch)

	ch, err = s.Next()
	require.NoError(t, err)
	require.Equal(t, TokenChunk{Content: "lo"}, ch)

	ch, err = s.Next()
	require.NoError(t, err)
	src, ok := ch.(SourceChunk)
	require.True(t, ok)
	require.Equal(t, "d1", src.Source.DocID)
	require.Equal(t, 3, src.Source.PageNumber)

	ch, err = s.Next()
	require.NoError(t, err)
	act, ok := ch.(ActionChunk)
	require.True(t, ok)
	require.Equal(t, "create_task", act.Action.Action)

	ch, err = s.Next()
	require.NoError(t, err)
	require.Equal(t, DoneChunk{MessageID: "srv-9"}, ch)
	require.True(t, IsTerminal(ch))

	_, err = s.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestStreamDoneWithoutMessageID(t *testing.T) {
	s := streamFrom(t, "data: {\"type\":\"done\"}\n\n")
	ch, err := s.Next()
	require.NoError(t, err)
	require.Equal(t, DoneChunk{}, ch)
}

func TestStreamErrorChunkIsTerminal(t *testing.T) {
	s := streamFrom(t, ""+
		"data: {\"type\":\"token\",\"content\":\"part\"}\n\n"+
		"data: {\"type\":\"error\",\"error\":\"model unavailable\"}\n\n"+
		"data: {\"type\":\"token\",\"content\":\"never seen\"}\n\n")

	ch, err := s.Next()
	require.NoError(t, err)
	require.Equal(t, TokenChunk{Content: "part"}, ch)

	ch, err = s.Next()
	require.NoError(t, err)
	require.Equal(t, ErrorChunk{Reason: "model unavailable"}, ch)

	_, err = s.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestStreamUnknownChunkType(t *testing.T) {
	s := streamFrom(t, "data: {\"type\":\"telemetry\",\"content\":\"x\"}\n\n")
	_, err := s.Next()
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
}

func TestStreamMalformedPayload(t *testing.T) {
	s := streamFrom(t, "data: {not json\n\n")
	_, err := s.Next()
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
}

func TestStreamTruncationIsTransportError(t *testing.T) {
	s := streamFrom(t, "data: {\"type\":\"token\",\"content\":\"abc\"}\n\n")
	_, err := s.Next()
	require.NoError(t, err)

	_, err = s.Next()
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
}

func TestStreamCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := newStream(ctx, io.NopCloser(strings.NewReader("data: {\"type\":\"token\",\"content\":\"x\"}\n\n")))
	_, err := s.Next()
	require.ErrorIs(t, err, context.Canceled)
}

func TestClassifyReason(t *testing.T) {
	var terr *TransportError
	require.ErrorAs(t, ClassifyReason("network error: fetch failed"), &terr)

	var derr *DegradedError
	require.ErrorAs(t, ClassifyReason("upstream timed out"), &derr)
	require.ErrorAs(t, ClassifyReason("service unavailable"), &derr)

	plain := ClassifyReason("knowledge base empty")
	require.False(t, errors.As(plain, &terr))
	require.False(t, errors.As(plain, &derr))
}
