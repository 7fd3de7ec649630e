package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

// Plan describes what a conversion run is about to do.
type Plan struct {
	ImagesDir  string
	OutputDir  string
	Collection string
	Embedder   string
	Sink       string
	Images     int
	TotalBytes uint64
	Warnings   []string
}

// Model is the Bubble Tea model for the pre-run confirmation prompt.
type Model struct {
	plan      Plan
	input     textinput.Model
	confirmed bool
	done      bool
}

// New creates a confirmation prompt for plan.
func New(plan Plan) Model {
	ti := textinput.New()
	ti.Prompt = "Proceed? [y/N] "
	ti.Placeholder = "n"
	ti.CharLimit = 3
	ti.Focus()
	return Model{plan: plan, input: ti}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key events. Enter decides, y and n decide immediately when
// the input is empty, Ctrl+C and Esc decline.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD, tea.KeyEsc:
			m.done = true
			return m, tea.Quit
		case tea.KeyEnter:
			m.confirmed = isYes(m.input.Value())
			m.done = true
			return m, tea.Quit
		}
		if m.input.Value() == "" {
			switch msg.String() {
			case "y", "Y":
				m.confirmed, m.done = true, true
				return m, tea.Quit
			case "n", "N":
				m.done = true
				return m, tea.Quit
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the plan box and prompt.
func (m Model) View() string {
	if m.done {
		return ""
	}
	return RenderPlan(m.plan) + "\n" + m.input.View() + "\n"
}

// Confirmed reports whether the operator accepted the plan.
func (m Model) Confirmed() bool { return m.confirmed }

// RenderPlan formats plan as a bordered block.
func RenderPlan(p Plan) string {
	rows := []string{
		titleStyle.Render("Image to vector conversion"),
		row("Images", fmt.Sprintf("%s (%s files, %s)", p.ImagesDir, humanize.Comma(int64(p.Images)), humanize.Bytes(p.TotalBytes))),
		row("Output", p.OutputDir),
		row("Index", p.Collection),
		row("Embedder", p.Embedder),
		row("Sink", p.Sink),
	}
	for _, w := range p.Warnings {
		rows = append(rows, warnStyle.Render("! "+w))
	}
	return boxStyle.Render(strings.Join(rows, "\n"))
}

func row(label, value string) string {
	return labelStyle.Render(fmt.Sprintf("%-9s", label)) + " " + value
}

func isYes(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return true
	}
	return false
}

var (
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	titleStyle = lipgloss.NewStyle().Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)
