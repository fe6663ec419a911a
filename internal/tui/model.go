package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"codebase-qa/internal/models"
)

// Asker is the TUI-facing subset of the RAG service.
type Asker interface {
	Query(ctx context.Context, question string) (*models.QueryResponse, error)
}

type answerMsg struct {
	question string
	resp     *models.QueryResponse
	err      error
}

// Model is the Bubble Tea model of the interactive question loop. Page 0
// shows the answer, the following pages the retrieved sources.
type Model struct {
	ctx      context.Context
	service  Asker
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	resp     *models.QueryResponse
	question string
	status   string
	page     int
	loading  bool
	ready    bool
}

func New(ctx context.Context, service Asker, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		ctx:      ctx,
		service:  service,
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  sp,
		status:   summary,
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + qh + 1 // header, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.viewport.SetContent(m.renderPage())
		return m, nil
	case answerMsg:
		m.loading = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.resp = nil
		} else {
			m.resp = msg.resp
			m.question = msg.question
			m.page = 0
			m.status = fmt.Sprintf("%d chunks retrieved for %q", msg.resp.RetrievedChunkCount, msg.question)
			if msg.resp.Degraded {
				m.status += " (degraded answer)"
			}
		}
		m.viewport.SetContent(m.renderPage())
		return m, nil
	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.loading {
				return m, nil
			}
			m.loading = true
			m.status = "Thinking..."
			m.input.SetValue("")
			return m, tea.Batch(m.spinner.Tick, m.ask(q))
		case "tab", "right":
			if m.resp != nil {
				m.page = (m.page + 1) % m.pages()
				m.viewport.SetContent(m.renderPage())
				return m, nil
			}
		case "shift+tab", "left":
			if m.resp != nil {
				m.page = (m.page - 1 + m.pages()) % m.pages()
				m.viewport.SetContent(m.renderPage())
				return m, nil
			}
		case "up", "down", "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Codebase QA")
	status := m.status
	if m.loading {
		status = m.spinner.View() + " " + status
	}
	return header + "\n" +
		resultBoxStyle.Render(m.viewport.View()) + "\n" +
		queryBoxStyle.Render(m.input.View()) + "\n" +
		statusStyle.Render(status)
}

func (m Model) ask(question string) tea.Cmd {
	return func() tea.Msg {
		resp, err := m.service.Query(m.ctx, question)
		return answerMsg{question: question, resp: resp, err: err}
	}
}

func (m Model) pages() int {
	if m.resp == nil {
		return 1
	}
	return len(m.resp.Sources) + 1
}

func (m Model) renderPage() string {
	if m.resp == nil {
		return "No answer yet."
	}
	if m.page == 0 {
		title := titleStyle.Render(fmt.Sprintf("Answer  (tab: sources 1-%d)", len(m.resp.Sources)))
		return title + "\n\n" + m.resp.Answer
	}
	src := m.resp.Sources[m.page-1]
	title := titleStyle.Render(fmt.Sprintf("Source %d/%d  %s  chunk=%v page=%v",
		m.page, len(m.resp.Sources), src.Source, src.ChunkIndex, src.Page))
	return title + "\n\n" + src.Content
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	titleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)
