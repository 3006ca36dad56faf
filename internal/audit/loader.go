package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/amishk599/jobalert/internal/model"
)

// Preview holds every listing the sources returned for a search and the
// subset that would actually be sent to the subscriber.
type Preview struct {
	Fetched []model.JobMatch
	Pending []model.JobMatch
}

type fetchDoneMsg struct {
	preview Preview
	err     error
}

type loaderModel struct {
	label   string
	fetchFn func(ctx context.Context) (Preview, error)
	spinner spinner.Model
	result  Preview
	err     error
	done    bool
}

func (m loaderModel) Init() tea.Cmd {
	return tea.Batch(m.doFetch(), m.spinner.Tick)
}

func (m loaderModel) doFetch() tea.Cmd {
	fetchFn := m.fetchFn
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		preview, err := fetchFn(ctx)
		return fetchDoneMsg{preview: preview, err: err}
	}
}

func (m loaderModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case fetchDoneMsg:
		m.result = msg.preview
		m.err = msg.err
		m.done = true
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.done = true
			m.err = fmt.Errorf("cancelled")
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)
	return m, cmd
}

func (m loaderModel) View() string {
	if m.done {
		return ""
	}
	return fmt.Sprintf("%s Searching listings for %s...\n", m.spinner.View(), m.label)
}

// RunLoader shows a spinner while fetchFn runs. It renders inline (no alt screen).
func RunLoader(label string, fetchFn func(ctx context.Context) (Preview, error)) (Preview, error) {
	s := spinner.New(spinner.WithSpinner(spinner.Dot))
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("33"))

	m := loaderModel{
		label:   label,
		fetchFn: fetchFn,
		spinner: s,
	}
	p := tea.NewProgram(m)
	result, err := p.Run()
	if err != nil {
		return Preview{}, err
	}
	final := result.(loaderModel)
	return final.result, final.err
}
