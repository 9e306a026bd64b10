package export

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/jayusctrojan/Empire-sub012/internal/chat"
)

type Exporter struct {
	overrideDir string
	cwd         string
}

func New(overrideDir string) (*Exporter, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve cwd: %w", err)
	}
	return &Exporter{overrideDir: strings.TrimSpace(overrideDir), cwd: cwd}, nil
}

func (e *Exporter) Export(session chat.Session, messages []chat.Message) (string, error) {
	path := e.outputPath(session)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	body := BuildTranscriptMarkdown(messages)
	md := BuildSessionMarkdown(session, body, time.Now().UTC())
	if err := os.WriteFile(path, []byte(md), 0o644); err != nil {
		return "", fmt.Errorf("write export file: %w", err)
	}
	return path, nil
}

func BuildTranscriptMarkdown(messages []chat.Message) string {
	var b strings.Builder
	for _, m := range messages {
		content := strings.TrimSpace(m.Content)
		if content == "" && !m.IsClarification {
			continue
		}

		switch m.Role {
		case chat.RoleUser:
			b.WriteString("## You\n\n")
			b.WriteString(content + "\n\n")
		case chat.RoleAssistant:
			header := "## CKO"
			if m.IsClarification {
				header += clarificationNote(m)
			}
			b.WriteString(header + "\n\n")
			if content != "" {
				b.WriteString(content + "\n\n")
			}
			if m.IsClarification && m.ClarificationAnswer != "" {
				b.WriteString("> Answered: " + m.ClarificationAnswer + "\n\n")
			}
			writeSources(&b, m.Sources)
			writeActions(&b, m.Actions)
		}
	}
	return strings.TrimSpace(b.String()) + "\n"
}

func clarificationNote(m chat.Message) string {
	status := string(m.ClarificationStatus)
	if status == "" {
		status = "pending"
	}
	status = strings.ReplaceAll(status, "_", " ")
	if m.ClarificationType != "" {
		return fmt.Sprintf(" (clarification: %s, %s)", m.ClarificationType, status)
	}
	return fmt.Sprintf(" (clarification, %s)", status)
}

func writeSources(b *strings.Builder, sources []chat.Source) {
	if len(sources) == 0 {
		return
	}
	b.WriteString("### Sources\n\n")
	for i, s := range sources {
		line := fmt.Sprintf("> [%d] %s", i+1, safeValue(s.Title))
		var details []string
		if s.RelevanceScore > 0 {
			details = append(details, fmt.Sprintf("score %.2f", s.RelevanceScore))
		}
		if s.PageNumber > 0 {
			details = append(details, fmt.Sprintf("p.%d", s.PageNumber))
		}
		if len(details) > 0 {
			line += " (" + strings.Join(details, ", ") + ")"
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\n")
}

func writeActions(b *strings.Builder, actions []chat.Action) {
	if len(actions) == 0 {
		return
	}
	b.WriteString("### Actions\n\n")
	b.WriteString("```text\n")
	for _, a := range actions {
		b.WriteString(a.Name + "\n")
	}
	b.WriteString("```\n\n")
}

func BuildSessionMarkdown(session chat.Session, transcript string, now time.Time) string {
	var b strings.Builder
	title := session.Title
	if title == "" {
		title = session.ID
	}
	b.WriteString("# CKO session " + title + "\n\n")
	b.WriteString("Exported: " + now.Format(time.RFC3339) + "\n\n")
	b.WriteString("```text\n")
	b.WriteString("session_id: " + session.ID + "\n")
	b.WriteString(fmt.Sprintf("message_count: %d\n", session.MessageCount))
	if session.ContextSummary != "" {
		b.WriteString("context: " + session.ContextSummary + "\n")
	}
	b.WriteString("```\n\n")
	b.WriteString(transcript)
	if !strings.HasSuffix(transcript, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}

func (e *Exporter) outputPath(session chat.Session) string {
	dir := e.overrideDir
	if dir == "" {
		dir = filepath.Join(e.cwd, "cko-exports")
	} else if !filepath.IsAbs(dir) {
		dir = filepath.Join(e.cwd, dir)
	}

	name := session.Title
	if name == "" {
		name = session.ID
	}
	return filepath.Join(dir, safeFileName(name)+".md")
}

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func safeFileName(s string) string {
	s = strings.TrimSpace(s)
	s = unsafeFileChars.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "session"
	}
	if len(s) > 80 {
		s = s[:80]
	}
	return s
}

func safeValue(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "n/a"
	}
	return s
}
