package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/ktx2-transcoder/capability"
	"github.com/wippyai/ktx2-transcoder/loader"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	familyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type modelState int

const (
	stateLoading modelState = iota
	statePick
	stateTranscoding
	stateShowResult
)

type family struct {
	name string
	bit  capability.Mask
	on   bool
}

type interactiveModel struct {
	err      error
	loader   *loader.Loader
	spinner  spinner.Model
	filename string
	result   string
	data     []byte
	opts     options
	families []family
	selected int
	state    modelState
}

func newInteractiveModel(filename string, opts options) *interactiveModel {
	initial, _ := capability.ParseMask(opts.mask)
	names := familyNames()
	families := make([]family, len(names))
	for i, name := range names {
		bit, _ := capability.ParseMask(name)
		families[i] = family{name: name, bit: bit, on: initial.Has(bit)}
	}

	return &interactiveModel{
		filename: filename,
		opts:     opts,
		families: families,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(familyStyle)),
		state:    stateLoading,
	}
}

type loadedMsg struct {
	err    error
	loader *loader.Loader
	data   []byte
}

type transcodedMsg struct {
	err    error
	result string
}

func (m *interactiveModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.load)
}

func (m *interactiveModel) load() tea.Msg {
	data, err := os.ReadFile(m.filename)
	if err != nil {
		return loadedMsg{err: err}
	}
	l, err := newLoader(context.Background(), m.opts)
	if err != nil {
		return loadedMsg{err: err}
	}
	return loadedMsg{loader: l, data: data}
}

func (m *interactiveModel) mask() capability.Mask {
	var mask capability.Mask
	for _, f := range m.families {
		if f.on {
			mask |= f.bit
		}
	}
	return mask
}

func (m *interactiveModel) transcode() tea.Msg {
	ctx := context.Background()
	l := m.loader.WithMask(m.mask())

	tex, err := l.LoadBytes(ctx, m.data, &loader.Settings{Label: m.filename})
	if err != nil {
		return transcodedMsg{err: err}
	}
	var b strings.Builder
	printTexture(&b, m.filename, l, tex)
	return transcodedMsg{result: b.String()}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.loader != nil {
				_ = m.loader.Close(context.Background())
			}
			return m, tea.Quit

		case "up", "k":
			if m.state == statePick && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == statePick && m.selected < len(m.families)-1 {
				m.selected++
			}

		case " ", "x":
			if m.state == statePick {
				m.families[m.selected].on = !m.families[m.selected].on
			}

		case "enter":
			switch m.state {
			case statePick:
				m.state = stateTranscoding
				return m, tea.Batch(m.spinner.Tick, m.transcode)
			case stateShowResult:
				m.state = statePick
				m.result = ""
				m.err = nil
			}

		case "esc":
			if m.state == stateShowResult {
				m.state = statePick
				m.result = ""
				m.err = nil
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.loader = msg.loader
		m.data = msg.data
		m.state = statePick

	case transcodedMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult

	case spinner.TickMsg:
		if m.state == stateLoading || m.state == stateTranscoding {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
	}

	return m, nil
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("KTX2 Transcoder"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")

	switch m.state {
	case stateLoading:
		b.WriteString(m.spinner.View() + " Loading backend...")

	case statePick:
		b.WriteString("Device supports:\n\n")
		for i, f := range m.families {
			box := "[ ] "
			if f.on {
				box = "[x] "
			}
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + box + f.name))
			} else {
				b.WriteString("  " + box + familyStyle.Render(f.name))
			}
			b.WriteString("\n")
		}
		b.WriteString("\nMask: " + m.mask().String() + "\n\n")
		b.WriteString(helpStyle.Render("↑/↓ select • space toggle • enter transcode • q quit"))

	case stateTranscoding:
		b.WriteString(m.spinner.View() + " Transcoding with " + m.mask().String() + "...")

	case stateShowResult:
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func runInteractive(filename string, opts options) error {
	p := tea.NewProgram(newInteractiveModel(filename, opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
