package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codebase-qa/internal/models"
)

type stubAsker struct {
	resp *models.QueryResponse
	err  error
}

func (s stubAsker) Query(ctx context.Context, question string) (*models.QueryResponse, error) {
	return s.resp, s.err
}

func sized(t *testing.T, m Model) Model {
	t.Helper()
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	return next.(Model)
}

func TestAskAndPageThroughSources(t *testing.T) {
	resp := &models.QueryResponse{
		Answer:              "Use the -file flag.",
		RetrievedChunkCount: 2,
		Sources: []models.Source{
			{Content: "ingest with -file", Source: "README.md", ChunkIndex: 0, Page: models.NotAvailable},
			{Content: "flags are parsed in main", Source: "main.go.txt", ChunkIndex: 3, Page: models.NotAvailable},
		},
	}
	m := sized(t, New(context.Background(), stubAsker{resp: resp}, "2 documents"))
	m.input.SetValue("how do I ingest?")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	require.NotNil(t, cmd)
	assert.True(t, m.loading)

	next, _ = m.Update(m.ask("how do I ingest?")())
	m = next.(Model)
	assert.False(t, m.loading)
	assert.Contains(t, m.status, "2 chunks retrieved")
	assert.Contains(t, m.renderPage(), "Use the -file flag.")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(Model)
	assert.Contains(t, m.renderPage(), "README.md")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	m = next.(Model)
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	m = next.(Model)
	assert.Contains(t, m.renderPage(), "main.go.txt")
}

func TestAskError(t *testing.T) {
	m := sized(t, New(context.Background(), stubAsker{err: errors.New("store offline")}, ""))

	next, _ := m.Update(m.ask("anything")())
	m = next.(Model)
	assert.Equal(t, "Error: store offline", m.status)
	assert.Equal(t, "No answer yet.", m.renderPage())
}
