package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Chunk is one event from the message stream. The concrete types below
// are the only implementations.
type Chunk interface {
	chunk()
}

type TokenChunk struct {
	Content string
}

type SourceChunk struct {
	Source Source
}

type ActionChunk struct {
	Action Action
}

// PhaseChunk is a status-only progress marker. It never carries
// transcript content.
type PhaseChunk struct {
	Phase string
	Label string
}

type DoneChunk struct {
	MessageID string
}

type ErrorChunk struct {
	Reason string
}

func (TokenChunk) chunk()  {}
func (SourceChunk) chunk() {}
func (ActionChunk) chunk() {}
func (PhaseChunk) chunk()  {}
func (DoneChunk) chunk()   {}
func (ErrorChunk) chunk()  {}

func IsTerminal(c Chunk) bool {
	switch c.(type) {
	case DoneChunk, ErrorChunk:
		return true
	}
	return false
}

// wireChunk is the data payload of a single SSE frame. Stream payloads
// use snake_case, unlike the REST bodies.
type wireChunk struct {
	Type      string      `json:"type"`
	Content   string      `json:"content"`
	Source    *wireSource `json:"source"`
	Action    *wireAction `json:"action"`
	Phase     string      `json:"phase"`
	Label     string      `json:"label"`
	MessageID string      `json:"message_id"`
	Error     string      `json:"error"`
}

type wireSource struct {
	DocID          string  `json:"doc_id"`
	Title          string  `json:"title"`
	Snippet        string  `json:"snippet"`
	RelevanceScore float64 `json:"relevance_score"`
	PageNumber     int     `json:"page_number"`
}

type wireAction struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
	Result map[string]any `json:"result"`
}

// Stream pulls chunks off an open SSE response. It is not safe for
// concurrent use; a single reader owns it until Close.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	ctx     context.Context
	done    bool
}

func newStream(ctx context.Context, body io.ReadCloser) *Stream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	return &Stream{body: body, scanner: sc, ctx: ctx}
}

// Next blocks until the next chunk arrives. After a terminal chunk has
// been returned, every further call returns io.EOF. A connection that
// drops before any terminal chunk surfaces as a TransportError.
func (s *Stream) Next() (Chunk, error) {
	if s.done {
		return nil, io.EOF
	}
	for {
		select {
		case <-s.ctx.Done():
			s.done = true
			return nil, s.ctx.Err()
		default:
		}

		if !s.scanner.Scan() {
			s.done = true
			if err := s.scanner.Err(); err != nil {
				return nil, wrapTransport("read stream", err)
			}
			return nil, &TransportError{Op: "read stream", Err: errors.New("stream ended without done event")}
		}

		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") || strings.HasPrefix(line, "event:") {
			continue
		}
		payload, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}

		chunk, err := parseChunk(strings.TrimSpace(payload))
		if err != nil {
			s.done = true
			return nil, err
		}
		if chunk == nil { // housekeeping frame, e.g. stream start
			continue
		}
		if IsTerminal(chunk) {
			s.done = true
		}
		return chunk, nil
	}
}

func (s *Stream) Close() error {
	s.done = true
	return s.body.Close()
}

func parseChunk(payload string) (Chunk, error) {
	var w wireChunk
	if err := json.Unmarshal([]byte(payload), &w); err != nil {
		return nil, &ProtocolError{Line: payload, Err: err}
	}
	switch w.Type {
	case "token":
		return TokenChunk{Content: w.Content}, nil
	case "source":
		if w.Source == nil {
			return nil, &ProtocolError{Line: payload, Err: errors.New("source chunk without source")}
		}
		return SourceChunk{Source: Source{
			DocID:          w.Source.DocID,
			Title:          w.Source.Title,
			Snippet:        w.Source.Snippet,
			RelevanceScore: w.Source.RelevanceScore,
			PageNumber:     w.Source.PageNumber,
		}}, nil
	case "action":
		if w.Action == nil {
			return nil, &ProtocolError{Line: payload, Err: errors.New("action chunk without action")}
		}
		return ActionChunk{Action: Action{
			Action: w.Action.Action,
			Params: w.Action.Params,
			Result: w.Action.Result,
		}}, nil
	case "phase":
		return PhaseChunk{Phase: w.Phase, Label: w.Label}, nil
	case "done":
		return DoneChunk{MessageID: w.MessageID}, nil
	case "error":
		return ErrorChunk{Reason: w.Error}, nil
	case "start":
		return nil, nil
	default:
		return nil, &ProtocolError{Line: payload, Err: fmt.Errorf("unknown chunk type %q", w.Type)}
	}
}
