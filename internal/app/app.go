package app

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/brensch/setfetch/internal/catalog"
)

// ErrCancelled is returned when the operator leaves the prompt with Esc or Ctrl+C.
var ErrCancelled = errors.New("prompt cancelled")

// --- Styles ---
var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	menuStyle   = lipgloss.NewStyle().PaddingLeft(2)
	countStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	numberStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("79"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	infoStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

// Request says which questions to ask.
type Request struct {
	// DefaultDir is used when the operator leaves the directory blank.
	DefaultDir string
	// OutputDir, when set, is used as is and the directory question is skipped.
	OutputDir    string
	AskSelection bool
}

// Answers holds what the operator entered.
type Answers struct {
	OutputDir string
	// Ordinals is nil when the selection question was not asked.
	Ordinals []int
}

// PromptModel is the bubbletea model behind Prompt.
type PromptModel struct {
	cat   *catalog.Catalog
	req   Request
	State PromptState

	dirInput textinput.Model
	selInput textinput.Model

	answers   Answers
	lastError error
}

// NewPromptModel creates the model for req. It starts at the first question
// that still needs an answer.
func NewPromptModel(cat *catalog.Catalog, req Request) *PromptModel {
	dir := textinput.New()
	dir.Placeholder = req.DefaultDir
	dir.Prompt = "> "
	dir.Width = 60

	sel := textinput.New()
	sel.Placeholder = "blank = all"
	sel.Prompt = "> "
	sel.Width = 40

	m := &PromptModel{cat: cat, req: req, dirInput: dir, selInput: sel}
	m.answers.OutputDir = req.OutputDir
	switch {
	case req.OutputDir == "":
		m.State = AskOutputDir
		m.dirInput.Focus()
	case req.AskSelection:
		m.State = AskSelection
		m.selInput.Focus()
	default:
		m.State = Done
	}
	return m
}

// Answers returns the collected answers once State is Done.
func (m *PromptModel) Answers() Answers { return m.answers }

// --- Bubbletea Interface ---

func (m *PromptModel) Init() tea.Cmd {
	if m.State == Done {
		return tea.Quit
	}
	return textinput.Blink
}

func (m *PromptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.State = Cancelled
			return m, tea.Quit
		case tea.KeyEnter:
			return m, m.submit()
		}
	}

	switch m.State {
	case AskOutputDir:
		m.dirInput, cmd = m.dirInput.Update(msg)
	case AskSelection:
		m.selInput, cmd = m.selInput.Update(msg)
	}
	return m, cmd
}

// submit accepts the current answer and moves to the next question.
func (m *PromptModel) submit() tea.Cmd {
	switch m.State {
	case AskOutputDir:
		dir := strings.TrimSpace(m.dirInput.Value())
		if dir == "" {
			dir = m.req.DefaultDir
		}
		m.answers.OutputDir = dir
		m.dirInput.Blur()
		if !m.req.AskSelection {
			m.State = Done
			return tea.Quit
		}
		m.State = AskSelection
		return m.selInput.Focus()
	case AskSelection:
		ordinals, err := catalog.ParseSelection(m.selInput.Value(), m.cat.Len())
		if err != nil {
			// Stay on the question until the input is valid.
			m.lastError = err
			m.selInput.SetValue("")
			return nil
		}
		m.lastError = nil
		m.answers.Ordinals = ordinals
		m.selInput.Blur()
		m.State = Done
		return tea.Quit
	}
	return nil
}

func (m *PromptModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("--- setfetch ---"))
	b.WriteString("\n\n")

	switch m.State {
	case AskOutputDir:
		b.WriteString(fmt.Sprintf("Output directory (blank = %s):\n", m.req.DefaultDir))
		b.WriteString(m.dirInput.View())
	case AskSelection:
		b.WriteString(m.viewSets())
		b.WriteString("\nSets to download, comma separated numbers:\n")
		b.WriteString(m.selInput.View())
		if m.lastError != nil {
			b.WriteString("\n")
			b.WriteString(errorStyle.Render(m.lastError.Error()))
		}
	case Done, Cancelled:
		return ""
	}

	b.WriteString("\n\n")
	b.WriteString(infoStyle.Render("Enter to confirm. Esc or Ctrl+C to quit."))
	b.WriteString("\n")
	return b.String()
}

// --- View Helpers ---

func (m *PromptModel) viewSets() string {
	var b strings.Builder
	b.WriteString("Available sets:\n")
	b.WriteString(ListSets(m.cat))
	return b.String()
}

// ListSets renders the numbered set list with URL counts.
func ListSets(cat *catalog.Catalog) string {
	var b strings.Builder
	for i, s := range cat.Sets() {
		line := fmt.Sprintf("%s %s %s",
			numberStyle.Render(fmt.Sprintf("%2d.", i+1)),
			s.Name,
			countStyle.Render(fmt.Sprintf("(%d archives)", len(s.URLs))),
		)
		b.WriteString(menuStyle.Render(line))
		b.WriteString("\n")
	}
	return b.String()
}

// Prompt asks the questions in req on the terminal behind in and out.
func Prompt(in io.Reader, out io.Writer, cat *catalog.Catalog, req Request) (Answers, error) {
	m := NewPromptModel(cat, req)
	if m.State == Done {
		return m.Answers(), nil
	}

	p := tea.NewProgram(m, tea.WithInput(in), tea.WithOutput(out))
	final, err := p.Run()
	if err != nil {
		return Answers{}, fmt.Errorf("run prompt: %w", err)
	}
	fm, ok := final.(*PromptModel)
	if !ok {
		return Answers{}, fmt.Errorf("run prompt: unexpected model %T", final)
	}
	if fm.State != Done {
		return Answers{}, ErrCancelled
	}
	return fm.Answers(), nil
}
