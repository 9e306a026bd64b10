package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/sirupsen/logrus"

	"github.com/jayusctrojan/Empire-sub012/internal/api"
	"github.com/jayusctrojan/Empire-sub012/internal/chat"
	"github.com/jayusctrojan/Empire-sub012/internal/clipboard"
	"github.com/jayusctrojan/Empire-sub012/internal/config"
	"github.com/jayusctrojan/Empire-sub012/internal/export"
	"github.com/jayusctrojan/Empire-sub012/internal/highlight"
	"github.com/jayusctrojan/Empire-sub012/internal/history"
)

const pendingRefreshInterval = 60 * time.Second

type inputMode int

const (
	modeCompose inputMode = iota
	modeClarify
	modeFeedback
	modeRename
	modeSearch
)

type Model struct {
	cfg      config.AppConfig
	ctrl     *chat.Controller
	cache    *history.Cache
	exporter *export.Exporter
	log      *logrus.Entry

	list     list.Model
	viewport viewport.Model
	help     help.Model
	spinner  spinner.Model
	input    textinput.Model
	keys     keyMap

	width  int
	height int

	focusOnList bool
	mode        inputMode

	clarifyTarget string
	rateTarget    string
	rateValue     int

	stream        *api.Stream
	streamSession string

	rendering   bool
	renderNonce int
	searchQuery string
	searchHits  []history.Hit

	status string
	err    error
}

type sessionsMsg struct {
	seq      uint64
	sessions []chat.Session
	err      error
}
type historyMsg struct {
	seq       uint64
	sessionID string
	msgs      []chat.Message
	err       error
}
type cachedHistoryMsg struct {
	seq       uint64
	sessionID string
	msgs      []chat.Message
}
type sessionCreatedMsg struct {
	sess         chat.Session
	pendingInput string
	err          error
}
type sessionDeletedMsg struct {
	id  string
	err error
}
type sessionRenamedMsg struct {
	id    string
	title string
	err   error
}
type streamOpenedMsg struct {
	sessionID string
	stream    *api.Stream
	err       error
}
type chunkMsg struct {
	sessionID string
	chunk     api.Chunk
	err       error
}
type pendingMsg struct {
	seq uint64
	pc  api.PendingCount
	err error
}
type pendingTickMsg struct{}
type rateDoneMsg struct {
	id       string
	value    int
	feedback string
	err      error
}
type clarifyDoneMsg struct {
	id     string
	op     string
	answer string
	err    error
}
type exportMsg struct {
	path string
	err  error
}
type copyMsg struct{ err error }
type renderMsg struct {
	sessionID string
	rendered  string
	nonce     int
}
type searchMsg struct {
	hits []history.Hit
	err  error
}

type sessionItem struct {
	s chat.Session
}

func (i sessionItem) Title() string {
	if i.s.Title != "" {
		return shorten(i.s.Title, 32)
	}
	return shorten(i.s.ID, 32)
}

func (i sessionItem) Description() string {
	meta := fmt.Sprintf("%d msgs", i.s.MessageCount)
	if i.s.PendingClarifications > 0 {
		meta += fmt.Sprintf(" | clar:%d", i.s.PendingClarifications)
	}
	if !i.s.LastMessageAt.IsZero() {
		meta += " | " + i.s.LastMessageAt.Local().Format("2006-01-02 15:04")
	}
	if i.s.ContextSummary != "" {
		meta += " | " + shorten(i.s.ContextSummary, 48)
	}
	return meta
}

func (i sessionItem) FilterValue() string {
	return strings.ToLower(i.s.ID + " " + i.s.Title + " " + i.s.ContextSummary)
}

func NewModel(cfg config.AppConfig, ctrl *chat.Controller, cache *history.Cache, exp *export.Exporter, log *logrus.Entry) Model {
	l := list.New([]list.Item{}, list.NewDefaultDelegate(), 40, 20)
	l.Title = "Sessions"
	l.SetShowFilter(false)
	l.SetFilteringEnabled(false)
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.DisableQuitKeybindings()

	vp := viewport.New(60, 20)
	vp.SetContent("Connecting...")

	h := help.New()
	h.ShowAll = false

	sp := spinner.New()
	sp.Spinner = spinner.Points

	ti := textinput.New()
	ti.Placeholder = "Ask the knowledge assistant..."
	ti.Prompt = "> "
	ti.CharLimit = 4000

	return Model{
		cfg:         cfg,
		ctrl:        ctrl,
		cache:       cache,
		exporter:    exp,
		log:         log,
		list:        l,
		viewport:    vp,
		help:        h,
		spinner:     sp,
		input:       ti,
		keys:        defaultKeys(),
		focusOnList: true,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.sessionsCmd(),
		m.pendingCmd(),
		pendingTickCmd(),
	)
}

func (m *Model) sessionsCmd() tea.Cmd {
	seq := m.ctrl.Registry.BeginSessionsLoad()
	limit := m.cfg.SessionLimit
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		sessions, err := ctrl.FetchSessions(ctx, limit)
		return sessionsMsg{seq: seq, sessions: sessions, err: err}
	}
}

func (m *Model) historyCmd(seq uint64, sessionID string) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		msgs, err := ctrl.FetchMessages(ctx, sessionID)
		return historyMsg{seq: seq, sessionID: sessionID, msgs: msgs, err: err}
	}
}

func (m *Model) cachedHistoryCmd(seq uint64, sessionID string) tea.Cmd {
	if m.cache == nil {
		return nil
	}
	cache := m.cache
	return func() tea.Msg {
		msgs, err := cache.Messages(sessionID)
		if err != nil || len(msgs) == 0 {
			return nil
		}
		return cachedHistoryMsg{seq: seq, sessionID: sessionID, msgs: msgs}
	}
}

func (m *Model) createSessionCmd(pendingInput string) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		sess, err := ctrl.CreateSession(ctx, "")
		return sessionCreatedMsg{sess: sess, pendingInput: pendingInput, err: err}
	}
}

func (m *Model) deleteSessionCmd(id string) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return sessionDeletedMsg{id: id, err: ctrl.DeleteSession(ctx, id)}
	}
}

func (m *Model) renameSessionCmd(id, title string) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return sessionRenamedMsg{id: id, title: title, err: ctrl.RenameSession(ctx, id, title)}
	}
}

func (m *Model) openStreamCmd(prep chat.SendPrep) tea.Cmd {
	client := m.ctrl.API
	return func() tea.Msg {
		stream, err := client.StreamMessage(prep.Ctx, prep.SessionID, prep.Content)
		return streamOpenedMsg{sessionID: prep.SessionID, stream: stream, err: err}
	}
}

func readChunkCmd(sessionID string, s *api.Stream) tea.Cmd {
	return func() tea.Msg {
		chunk, err := s.Next()
		return chunkMsg{sessionID: sessionID, chunk: chunk, err: err}
	}
}

func (m *Model) pendingCmd() tea.Cmd {
	seq := m.ctrl.Clarifier.BeginPendingRefresh()
	client := m.ctrl.API
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		pc, err := client.PendingClarifications(ctx)
		return pendingMsg{seq: seq, pc: pc, err: err}
	}
}

func pendingTickCmd() tea.Cmd {
	return tea.Tick(pendingRefreshInterval, func(time.Time) tea.Msg {
		return pendingTickMsg{}
	})
}

func (m *Model) rateCmd(id string, value int, feedback string) tea.Cmd {
	client := m.ctrl.API
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		err := client.RateMessage(ctx, id, value, feedback)
		return rateDoneMsg{id: id, value: value, feedback: feedback, err: err}
	}
}

func (m *Model) clarifyCmd(id, op, answer string) tea.Cmd {
	client := m.ctrl.API
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		var err error
		if op == "answer" {
			err = client.AnswerClarification(ctx, id, answer)
		} else {
			err = client.SkipClarification(ctx, id)
		}
		return clarifyDoneMsg{id: id, op: op, answer: answer, err: err}
	}
}

func (m *Model) exportCmd() tea.Cmd {
	sessionID := m.ctrl.Registry.Active()
	if sessionID == "" {
		return nil
	}
	session, _ := m.ctrl.Registry.Get(sessionID)
	msgs := m.ctrl.Store.Messages()
	exp := m.exporter
	return func() tea.Msg {
		path, err := exp.Export(session, msgs)
		return exportMsg{path: path, err: err}
	}
}

func (m *Model) copyCmd() tea.Cmd {
	msg, ok := m.ctrl.Store.LastAssistant()
	if !ok {
		m.status = "Nothing to copy yet"
		return nil
	}
	text := msg.Content
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return copyMsg{err: clipboard.Copy(ctx, text)}
	}
}

func (m *Model) searchCmd(query string) tea.Cmd {
	if m.cache == nil {
		m.status = "Search unavailable: no local cache"
		return nil
	}
	cache := m.cache
	return func() tea.Msg {
		hits, err := cache.Search(query, 25)
		return searchMsg{hits: hits, err: err}
	}
}

func (m *Model) renderCmd() tea.Cmd {
	sessionID := m.ctrl.Registry.Active()
	if sessionID == "" || m.ctrl.Consumer.Streaming() {
		return nil
	}
	md := transcriptMarkdown(m.ctrl.Store.Messages(), "")
	m.rendering = true
	m.renderNonce++
	nonce := m.renderNonce
	wrap := m.viewport.Width - 2
	if wrap < 20 {
		wrap = 20
	}
	return func() tea.Msg {
		rendered := md
		r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(config.DefaultGlamourStyle),
			glamour.WithWordWrap(wrap),
		)
		if err == nil {
			if out, renderErr := r.Render(md); renderErr == nil {
				rendered = out
			}
		}
		return renderMsg{sessionID: sessionID, rendered: rendered, nonce: nonce}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		m.showPlainTranscript(false)
		cmds = append(cmds, m.renderCmd())

	case sessionsMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = "Could not load sessions"
			break
		}
		m.err = nil
		committed, activeDropped := m.ctrl.CommitSessions(msg.seq, msg.sessions)
		if !committed {
			break
		}
		m.ctrl.Health.ObserveSuccess()
		m.applySessions()
		if activeDropped {
			m.viewport.SetContent("Session no longer exists. Select another, or press n.")
		} else if m.ctrl.Registry.Active() == "" && m.ctrl.Store.Len() == 0 {
			m.viewport.SetContent("Select a session, or press n to start a new one.")
		}

	case cachedHistoryMsg:
		// Provisional paint; the fresh copy replaces it when it lands.
		if !m.ctrl.Registry.CommitHistory(msg.seq) {
			break
		}
		if m.ctrl.Store.Len() == 0 {
			m.ctrl.Store.ReplaceAll(msg.msgs)
			m.showPlainTranscript(true)
		}

	case historyMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = "Could not load transcript"
			break
		}
		m.err = nil
		if !m.ctrl.CommitHistory(msg.seq, msg.msgs) {
			break
		}
		m.showPlainTranscript(true)
		cmds = append(cmds, m.renderCmd())

	case sessionCreatedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = "Could not create session"
			break
		}
		m.err = nil
		m.ctrl.AdoptSession(msg.sess)
		m.applySessions()
		if msg.pendingInput != "" {
			cmds = append(cmds, m.beginSend(msg.pendingInput)...)
		}

	case sessionDeletedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = "Could not delete session"
			break
		}
		m.err = nil
		if m.ctrl.RemoveSession(msg.id) {
			m.viewport.SetContent("Session deleted. Select another, or press n.")
		}
		m.applySessions()
		m.status = "Session deleted"

	case sessionRenamedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = "Could not rename session"
			break
		}
		m.err = nil
		m.ctrl.Registry.Rename(msg.id, msg.title)
		m.applySessions()
		m.status = "Session renamed"

	case streamOpenedMsg:
		if msg.err != nil {
			m.ctrl.StreamFailed(msg.sessionID, msg.err)
			m.streamSession = ""
			m.status = sendFailedStatus(msg.err, m.ctrl.Retry)
			m.showPlainTranscript(false)
			break
		}
		m.stream = msg.stream
		m.streamSession = msg.sessionID
		cmds = append(cmds, readChunkCmd(msg.sessionID, msg.stream))

	case chunkMsg:
		cmds = append(cmds, m.handleChunk(msg)...)

	case pendingTickMsg:
		cmds = append(cmds, m.pendingCmd(), pendingTickCmd())

	case pendingMsg:
		if msg.err != nil {
			// Badge refreshes are best-effort.
			break
		}
		m.ctrl.Clarifier.CommitPending(msg.seq, msg.pc)

	case rateDoneMsg:
		if msg.err != nil {
			m.err = msg.err
			m.ctrl.Gate.Release(msg.id)
			m.status = "Rating failed; the response is still unrated"
			break
		}
		m.err = nil
		m.ctrl.Gate.Commit(msg.id, msg.value, msg.feedback)
		m.status = "Rating recorded"
		m.showPlainTranscript(false)
		cmds = append(cmds, m.renderCmd())

	case clarifyDoneMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = "Clarification " + msg.op + " failed; still pending"
			break
		}
		m.err = nil
		if msg.op == "answer" {
			m.ctrl.Clarifier.CommitAnswer(msg.id, msg.answer)
			m.status = "Clarification answered"
		} else {
			m.ctrl.Clarifier.CommitSkip(msg.id)
			m.status = "Clarification skipped"
		}
		m.showPlainTranscript(false)
		cmds = append(cmds, m.renderCmd(), m.pendingCmd())

	case exportMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = "Export failed: " + msg.err.Error()
		} else {
			m.err = nil
			m.status = "Exported: " + msg.path
		}

	case copyMsg:
		if msg.err != nil {
			m.err = msg.err
			if errors.Is(msg.err, clipboard.ErrToolNotFound) {
				m.status = "Could not copy: clipboard tool not found"
			} else {
				m.status = "Could not copy: " + msg.err.Error()
			}
		} else {
			m.err = nil
			m.status = "Copied answer to clipboard"
		}

	case searchMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = "Search failed"
			break
		}
		m.searchHits = msg.hits
		m.applySessions()
		m.status = fmt.Sprintf("%d sessions matched", len(msg.hits))

	case renderMsg:
		if msg.nonce != m.renderNonce {
			break
		}
		m.rendering = false
		if m.ctrl.Registry.Active() != msg.sessionID || m.ctrl.Consumer.Streaming() {
			break
		}
		m.setViewportContent(msg.rendered, false)

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	if m.ctrl.Consumer.Streaming() {
		var spin tea.Cmd
		m.spinner, spin = m.spinner.Update(msg)
		cmds = append(cmds, spin)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) handleChunk(msg chunkMsg) []tea.Cmd {
	if msg.err != nil {
		m.closeStream()
		switch {
		case errors.Is(msg.err, io.EOF):
			// Terminal chunk already folded.
		case errors.Is(msg.err, context.Canceled):
			m.status = "Stopped"
		default:
			m.ctrl.StreamFailed(msg.sessionID, msg.err)
			m.status = sendFailedStatus(msg.err, m.ctrl.Retry)
		}
		m.showPlainTranscript(false)
		return []tea.Cmd{m.renderCmd()}
	}

	outcome, detail := m.ctrl.HandleChunk(msg.sessionID, msg.chunk)
	switch outcome {
	case chat.OutcomeFinalized:
		m.closeStream()
		m.status = ""
		m.showPlainTranscript(false)
		return []tea.Cmd{m.renderCmd(), m.pendingCmd()}
	case chat.OutcomeErrored:
		m.closeStream()
		m.status = sendFailedStatus(api.ClassifyReason(detail), m.ctrl.Retry)
		m.showPlainTranscript(false)
		return []tea.Cmd{m.renderCmd()}
	default:
		m.showPlainTranscript(false)
		if m.stream == nil {
			return nil
		}
		return []tea.Cmd{readChunkCmd(msg.sessionID, m.stream)}
	}
}

func (m *Model) closeStream() {
	if m.stream != nil {
		_ = m.stream.Close()
		m.stream = nil
	}
	m.streamSession = ""
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	if msg.String() == "ctrl+c" {
		m.ctrl.StopStream()
		m.closeStream()
		return m, tea.Quit
	}

	if m.input.Focused() {
		switch msg.String() {
		case "esc":
			if m.ctrl.Consumer.Streaming() {
				m.ctrl.StopStream()
				m.status = "Stopped"
				m.showPlainTranscript(false)
				cmds = append(cmds, m.renderCmd())
				return m, tea.Batch(cmds...)
			}
			m.leaveInput()
			switch m.mode {
			case modeSearch:
				m.searchHits = nil
				m.searchQuery = ""
				m.applySessions()
			case modeFeedback:
				if m.rateTarget != "" {
					m.ctrl.Gate.Release(m.rateTarget)
				}
				m.rateTarget, m.rateValue = "", 0
			case modeClarify:
				m.clarifyTarget = ""
			}
			m.mode = modeCompose
			return m, nil
		case "enter":
			return m.submitInput()
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.ctrl.StopStream()
		m.closeStream()
		return m, tea.Quit
	case key.Matches(msg, m.keys.Tab):
		m.focusOnList = !m.focusOnList
		if !m.focusOnList {
			m.enterInput(modeCompose)
		}
		return m, nil
	case key.Matches(msg, m.keys.Compose):
		m.focusOnList = false
		m.enterInput(modeCompose)
		return m, nil
	case key.Matches(msg, m.keys.New):
		if m.ctrl.Consumer.Streaming() {
			m.status = "Finish or stop the current response first"
			return m, nil
		}
		return m, m.createSessionCmd("")
	case key.Matches(msg, m.keys.Delete):
		id := m.selectedSessionID()
		if id == "" {
			return m, nil
		}
		if m.ctrl.Consumer.Streaming() && m.ctrl.Consumer.ActiveSession() == id {
			m.status = "Stop the stream before deleting this session"
			return m, nil
		}
		return m, m.deleteSessionCmd(id)
	case key.Matches(msg, m.keys.Rename):
		if m.selectedSessionID() == "" {
			return m, nil
		}
		m.enterInput(modeRename)
		return m, nil
	case key.Matches(msg, m.keys.Search):
		m.enterInput(modeSearch)
		return m, nil
	case key.Matches(msg, m.keys.Retry):
		content, ok := m.ctrl.Retry.Take()
		if !ok {
			m.status = "Nothing to retry"
			return m, nil
		}
		m.focusOnList = false
		m.enterInput(modeCompose)
		m.input.SetValue(content)
		m.input.CursorEnd()
		m.status = fmt.Sprintf("Retry loaded (%d left); enter to resend", m.ctrl.Retry.Remaining())
		return m, nil
	case key.Matches(msg, m.keys.RateUp):
		return m.startRating(1)
	case key.Matches(msg, m.keys.RateDown):
		return m.startRating(-1)
	case key.Matches(msg, m.keys.Answer):
		target, ok := m.ctrl.Store.LastPendingClarification()
		if !ok {
			m.status = "No pending clarification"
			return m, nil
		}
		m.clarifyTarget = target.ID
		m.enterInput(modeClarify)
		return m, nil
	case key.Matches(msg, m.keys.Skip):
		target, ok := m.ctrl.Store.LastPendingClarification()
		if !ok {
			m.status = "No pending clarification"
			return m, nil
		}
		if err := m.ctrl.Clarifier.Check(target.ID); err != nil {
			if !errors.Is(err, chat.ErrAlreadyResolved) {
				m.status = err.Error()
			}
			return m, nil
		}
		return m, m.clarifyCmd(target.ID, "skip", "")
	case key.Matches(msg, m.keys.Export):
		return m, m.exportCmd()
	case key.Matches(msg, m.keys.Copy):
		return m, m.copyCmd()
	case key.Matches(msg, m.keys.Refresh):
		m.status = "Refreshing..."
		return m, tea.Batch(m.sessionsCmd(), m.pendingCmd())
	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil
	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil
	}

	if m.focusOnList {
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		cmds = append(cmds, cmd)
		if msg.String() == "enter" {
			if id := m.selectedSessionID(); id != "" && id != m.ctrl.Registry.Active() {
				cmds = append(cmds, m.switchSession(id)...)
			}
		}
	} else {
		switch msg.String() {
		case "up", "k":
			m.viewport.LineUp(1)
		case "down", "j":
			m.viewport.LineDown(1)
		}
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) switchSession(id string) []tea.Cmd {
	seq, err := m.ctrl.BeginSwitch(id)
	if err != nil {
		m.status = err.Error()
		return nil
	}
	m.ctrl.Store.Clear()
	m.viewport.SetContent("Loading transcript...")
	var cmds []tea.Cmd
	if cached := m.cachedHistoryCmd(seq, id); cached != nil {
		cmds = append(cmds, cached)
	}
	cmds = append(cmds, m.historyCmd(seq, id))
	return cmds
}

func (m Model) startRating(value int) (tea.Model, tea.Cmd) {
	target, ok := m.ctrl.Store.LastAssistant()
	if !ok {
		m.status = "No response to rate"
		return m, nil
	}
	if err := m.ctrl.Gate.Check(target.ID, value); err != nil {
		var already *chat.AlreadyRatedError
		if errors.As(err, &already) {
			m.status = "Already rated"
		} else {
			m.status = err.Error()
		}
		return m, nil
	}
	m.rateTarget = target.ID
	m.rateValue = value
	m.enterInput(modeFeedback)
	return m, nil
}

func (m Model) submitInput() (tea.Model, tea.Cmd) {
	value := strings.TrimSpace(m.input.Value())
	mode := m.mode
	m.leaveInput()
	m.mode = modeCompose

	switch mode {
	case modeCompose:
		if value == "" {
			return m, nil
		}
		if m.ctrl.Registry.Active() == "" {
			m.status = "Starting a new session..."
			return m, m.createSessionCmd(value)
		}
		return m, tea.Batch(m.beginSend(value)...)

	case modeClarify:
		id := m.clarifyTarget
		m.clarifyTarget = ""
		if value == "" || id == "" {
			return m, nil
		}
		if err := m.ctrl.Clarifier.Check(id); err != nil {
			if !errors.Is(err, chat.ErrAlreadyResolved) {
				m.status = err.Error()
			}
			return m, nil
		}
		return m, m.clarifyCmd(id, "answer", value)

	case modeFeedback:
		id, val := m.rateTarget, m.rateValue
		m.rateTarget, m.rateValue = "", 0
		if id == "" {
			return m, nil
		}
		return m, m.rateCmd(id, val, value)

	case modeRename:
		id := m.selectedSessionID()
		if value == "" || id == "" {
			return m, nil
		}
		return m, m.renameSessionCmd(id, value)

	case modeSearch:
		m.searchQuery = value
		if value == "" {
			m.searchHits = nil
			m.applySessions()
			return m, nil
		}
		return m, m.searchCmd(value)
	}
	return m, nil
}

func (m *Model) beginSend(text string) []tea.Cmd {
	prep, err := m.ctrl.BeginSend(text)
	if err != nil {
		if errors.Is(err, chat.ErrStreamInFlight) {
			m.status = "Wait for the current response to finish"
		} else {
			m.status = err.Error()
		}
		return nil
	}
	m.focusOnList = false
	m.enterInput(modeCompose)
	m.showPlainTranscript(false)
	return []tea.Cmd{m.openStreamCmd(prep), m.spinner.Tick}
}

func (m *Model) enterInput(mode inputMode) {
	m.mode = mode
	m.input.SetValue("")
	switch mode {
	case modeCompose:
		m.input.Prompt = "> "
		m.input.Placeholder = "Ask the knowledge assistant..."
	case modeClarify:
		m.input.Prompt = "answer> "
		m.input.Placeholder = "Answer the clarification..."
	case modeFeedback:
		m.input.Prompt = "feedback> "
		m.input.Placeholder = "Optional feedback; enter to submit"
	case modeRename:
		m.input.Prompt = "title> "
		m.input.Placeholder = "New session title"
	case modeSearch:
		m.input.Prompt = "/ "
		m.input.Placeholder = "Search cached transcripts..."
	}
	m.input.Focus()
}

func (m *Model) leaveInput() {
	m.input.SetValue("")
	m.input.Blur()
	m.focusOnList = true
}

func (m *Model) applySessions() {
	sessions := m.ctrl.Registry.Sessions()
	if len(m.searchHits) > 0 {
		byID := make(map[string]chat.Session, len(sessions))
		for _, s := range sessions {
			byID[s.ID] = s
		}
		filtered := make([]chat.Session, 0, len(m.searchHits))
		for _, h := range m.searchHits {
			if s, ok := byID[h.SessionID]; ok {
				filtered = append(filtered, s)
			}
		}
		sessions = filtered
	}

	items := make([]list.Item, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, sessionItem{s: s})
	}
	m.list.SetItems(items)

	active := m.ctrl.Registry.Active()
	if active == "" {
		return
	}
	for idx, s := range sessions {
		if s.ID == active {
			m.list.Select(idx)
			break
		}
	}
}

func (m *Model) selectedSessionID() string {
	item, ok := m.list.SelectedItem().(sessionItem)
	if !ok {
		return ""
	}
	return item.s.ID
}

// showPlainTranscript paints the raw markdown immediately. Streaming
// updates go through here; the glamour pass happens async once the
// stream is idle.
func (m *Model) showPlainTranscript(gotoTop bool) {
	if m.ctrl.Registry.Active() == "" {
		return
	}
	md := transcriptMarkdown(m.ctrl.Store.Messages(), m.ctrl.Consumer.PhaseLabel())
	m.setViewportContent(md, gotoTop)
	if !gotoTop && m.ctrl.Consumer.Streaming() {
		m.viewport.GotoBottom()
	}
}

func (m *Model) setViewportContent(content string, gotoTop bool) {
	if q := strings.TrimSpace(m.searchQuery); q != "" {
		res := highlight.ApplyANSI(content, q, func(s string) string {
			return searchMatchStyle.Render(s)
		})
		content = res.Text
	}
	m.viewport.SetContent(content)
	if gotoTop {
		m.viewport.GotoTop()
	}
}

func transcriptMarkdown(msgs []chat.Message, phaseLabel string) string {
	var b strings.Builder
	for _, msg := range msgs {
		content := strings.TrimSpace(msg.Content)
		switch msg.Role {
		case chat.RoleUser:
			if content == "" {
				continue
			}
			b.WriteString("## You\n\n")
			b.WriteString(content + "\n\n")
		case chat.RoleAssistant:
			header := "## CKO"
			if msg.IsClarification {
				header += clarificationBadge(msg)
			}
			if msg.Rating > 0 {
				header += " [rated +]"
			} else if msg.Rating < 0 {
				header += " [rated -]"
			}
			b.WriteString(header + "\n\n")

			switch {
			case msg.Streaming && content == "":
				label := phaseLabel
				if label == "" {
					label = "Thinking"
				}
				b.WriteString("_" + label + "..._\n\n")
			case msg.Streaming:
				b.WriteString(content + " ▌\n\n")
			case content != "":
				b.WriteString(content + "\n\n")
			}
			if msg.IsClarification && msg.ClarificationAnswer != "" {
				b.WriteString("> Answered: " + msg.ClarificationAnswer + "\n\n")
			}
			writeSourcesMarkdown(&b, msg.Sources)
			writeActionsMarkdown(&b, msg.Actions)
		}
	}
	return strings.TrimSpace(b.String()) + "\n"
}

func clarificationBadge(msg chat.Message) string {
	status := string(msg.ClarificationStatus)
	if status == "" {
		status = "pending"
	}
	status = strings.ReplaceAll(status, "_", " ")
	if msg.ClarificationType != "" {
		return fmt.Sprintf(" (clarification: %s, %s)", msg.ClarificationType, status)
	}
	return fmt.Sprintf(" (clarification: %s)", status)
}

func writeSourcesMarkdown(b *strings.Builder, sources []chat.Source) {
	if len(sources) == 0 {
		return
	}
	b.WriteString("**Sources**\n\n")
	for i, s := range sources {
		line := fmt.Sprintf("%d. %s", i+1, s.Title)
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

func writeActionsMarkdown(b *strings.Builder, actions []chat.Action) {
	if len(actions) == 0 {
		return
	}
	b.WriteString("**Actions**: ")
	names := make([]string, 0, len(actions))
	for _, a := range actions {
		names = append(names, "`"+a.Name+"`")
	}
	b.WriteString(strings.Join(names, ", ") + "\n\n")
}

func sendFailedStatus(err error, retry *chat.RetryCoordinator) string {
	status := "Response failed"
	var derr *api.DegradedError
	var terr *api.TransportError
	switch {
	case errors.As(err, &derr):
		status = "Response failed: " + derr.Reason
	case errors.As(err, &terr):
		status = "Response failed: cannot reach server"
	case err != nil:
		status = "Response failed: " + shorten(err.Error(), 60)
	}
	if retry.Available() {
		status += fmt.Sprintf("  (r to retry, %d left)", retry.Remaining())
	}
	return status
}

func (m *Model) resize() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	left, right := m.paneWidths()

	bodyHeight := m.height - 2
	if bodyHeight < 8 {
		bodyHeight = 8
	}

	m.list.SetSize(left-2, bodyHeight-2)
	m.viewport.Width = right - 2
	m.viewport.Height = bodyHeight - 3
}

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Starting..."
	}

	status := m.statusLine()
	left, right := m.paneWidths()
	leftPane := panelStyle(m.focusOnList).Width(left).Height(m.height - 2).Render(m.list.View())

	chatBody := m.viewport.View() + "\n" + m.input.View()
	rightPane := panelStyle(!m.focusOnList).Width(right).Height(m.height - 2).Render(chatBody)
	body := lipgloss.JoinHorizontal(lipgloss.Top, leftPane, rightPane)

	helpView := m.help.View(m.keys)

	return lipgloss.JoinVertical(lipgloss.Left,
		status,
		body,
		helpView,
	)
}

func (m Model) statusLine() string {
	parts := []string{m.healthSegment()}

	if id := m.ctrl.Registry.Active(); id != "" {
		if s, ok := m.ctrl.Registry.Get(id); ok {
			name := s.Title
			if name == "" {
				name = shorten(s.ID, 18)
			}
			parts = append(parts, fmt.Sprintf("session=%s  messages=%d", shorten(name, 24), s.MessageCount))
		}
	}

	if count, overdue := m.ctrl.Clarifier.Pending(); count > 0 {
		badge := fmt.Sprintf("clar:%d", count)
		if overdue {
			badge += "!"
		}
		parts = append(parts, clarBadgeStyle.Render(badge))
	}

	if m.ctrl.Consumer.Streaming() {
		segment := m.spinner.View() + " streaming"
		if label := m.ctrl.Consumer.PhaseLabel(); label != "" {
			segment += ": " + label
		}
		parts = append(parts, segment)
	} else if m.rendering {
		parts = append(parts, "[rendering]")
	}

	if m.searchQuery != "" {
		parts = append(parts, "search: "+m.searchQuery)
	}
	if s := strings.TrimSpace(m.status); s != "" {
		parts = append(parts, shorten(s, 80))
	}
	if m.err != nil && strings.TrimSpace(m.status) == "" {
		parts = append(parts, "err="+shorten(m.err.Error(), 60))
	}

	line := strings.Join(parts, "  ")
	if m.width > 2 {
		line = ansi.Truncate(line, m.width-2, "…")
	}
	return statusStyle.Render(line)
}

func (m Model) healthSegment() string {
	status := m.ctrl.Health.Status()
	label := status.String()
	if reason := m.ctrl.Health.Reason(); reason != "" && status != chat.HealthConnected {
		label += ": " + shorten(reason, 32)
	}
	switch status {
	case chat.HealthConnected:
		return healthOKStyle.Render("● " + label)
	case chat.HealthDegraded:
		return healthWarnStyle.Render("● " + label)
	case chat.HealthDisconnected:
		return healthBadStyle.Render("● " + label)
	default:
		return healthIdleStyle.Render("● " + label)
	}
}

func (m *Model) paneWidths() (int, int) {
	left := m.width / 3
	if left < 30 {
		left = 30
	}
	if left > m.width-40 {
		left = m.width - 40
	}
	if left < 20 {
		left = 20
	}
	right := m.width - left - 1
	if right < 20 {
		right = 20
	}
	return left, right
}

func shorten(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

var (
	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("24")).
			Padding(0, 1)
	searchMatchStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("16")).
				Background(lipgloss.Color("220"))
	clarBadgeStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("16")).
			Background(lipgloss.Color("214"))
	healthOKStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	healthWarnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	healthBadStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	healthIdleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func panelStyle(active bool) lipgloss.Style {
	border := lipgloss.NormalBorder()
	if active {
		return lipgloss.NewStyle().
			Border(border, true).
			BorderForeground(lipgloss.Color("39")).
			Padding(0, 1)
	}
	return lipgloss.NewStyle().
		Border(border, true).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)
}

type keyMap struct {
	Up       key.Binding
	Down     key.Binding
	Tab      key.Binding
	Compose  key.Binding
	New      key.Binding
	Delete   key.Binding
	Rename   key.Binding
	Search   key.Binding
	Retry    key.Binding
	RateUp   key.Binding
	RateDown key.Binding
	Answer   key.Binding
	Skip     key.Binding
	Export   key.Binding
	Copy     key.Binding
	Refresh  key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Quit     key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Tab: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "toggle focus"),
		),
		Compose: key.NewBinding(
			key.WithKeys("i"),
			key.WithHelp("i", "compose"),
		),
		New: key.NewBinding(
			key.WithKeys("n"),
			key.WithHelp("n", "new session"),
		),
		Delete: key.NewBinding(
			key.WithKeys("D"),
			key.WithHelp("D", "delete session"),
		),
		Rename: key.NewBinding(
			key.WithKeys("T"),
			key.WithHelp("T", "rename session"),
		),
		Search: key.NewBinding(
			key.WithKeys("/"),
			key.WithHelp("/", "search"),
		),
		Retry: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "retry failed send"),
		),
		RateUp: key.NewBinding(
			key.WithKeys("+"),
			key.WithHelp("+", "rate helpful"),
		),
		RateDown: key.NewBinding(
			key.WithKeys("-"),
			key.WithHelp("-", "rate unhelpful"),
		),
		Answer: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "answer clarification"),
		),
		Skip: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "skip clarification"),
		),
		Export: key.NewBinding(
			key.WithKeys("e"),
			key.WithHelp("e", "export markdown"),
		),
		Copy: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "copy answer"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "reconnect/refresh"),
		),
		PageUp: key.NewBinding(
			key.WithKeys("pgup"),
			key.WithHelp("pgup", "page up"),
		),
		PageDown: key.NewBinding(
			key.WithKeys("pgdown"),
			key.WithHelp("pgdn", "page down"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Tab, k.Compose, k.New, k.Retry, k.RateUp, k.Answer, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Tab, k.Compose, k.PageUp, k.PageDown},
		{k.New, k.Delete, k.Rename, k.Search, k.Refresh},
		{k.Retry, k.RateUp, k.RateDown, k.Answer, k.Skip},
		{k.Export, k.Copy, k.Quit},
	}
}
