// Package ui is the terminal front end of the reader. It owns the polling
// loop: every tick it runs the session engine and redraws when the engine
// reports a change.
package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pagelink/internal/session"
)

const DefaultTickInterval = 50 * time.Millisecond

// Engine is the part of *session.Engine the front end drives. All calls
// happen on the bubbletea event loop.
type Engine interface {
	Tick()
	HandleInput(session.Input)
	Exit()
	Exited() bool
	TakeUpdate() bool
	View() session.View
}

// Options configures a Model.
type Options struct {
	TickInterval  time.Duration
	DisplayWidth  int // page bitmap size
	DisplayHeight int
	DeviceName    string
}

type tickMsg time.Time

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	headerStyle   = lipgloss.NewStyle().Bold(true).Padding(0, 1).Reverse(true)
	selectedStyle = lipgloss.NewStyle().Reverse(true)
	dimStyle      = lipgloss.NewStyle().Faint(true)
	errorStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	pageStyle     = lipgloss.NewStyle().Border(lipgloss.NormalBorder())
)

// Model is the bubbletea model for one reader session.
type Model struct {
	engine Engine
	opts   Options
	keys   keyMap
	help   help.Model

	view   session.View
	width  int
	height int
}

func NewModel(engine Engine, opts Options) Model {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.DisplayWidth <= 0 || opts.DisplayHeight <= 0 {
		opts.DisplayWidth, opts.DisplayHeight = 480, 800
	}
	if opts.DeviceName == "" {
		opts.DeviceName = "pagelink"
	}
	return Model{
		engine: engine,
		opts:   opts,
		keys:   defaultKeyMap(),
		help:   help.New(),
		view:   engine.View(),
		width:  80,
		height: 24,
	}
}

// Init implements tea.Model.
func (model Model) Init() tea.Cmd {
	return model.tick()
}

func (model Model) tick() tea.Cmd {
	return tea.Tick(model.opts.TickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tickMsg:
		model.engine.Tick()
		model.refresh()
		if model.engine.Exited() {
			return model, tea.Quit
		}
		return model, model.tick()

	case tea.KeyMsg:
		if message.Type == tea.KeyCtrlC {
			model.engine.Exit()
			return model, tea.Quit
		}
		if in, ok := model.keys.input(message); ok {
			model.engine.HandleInput(in)
			model.refresh()
			if model.engine.Exited() {
				return model, tea.Quit
			}
		}

	case tea.WindowSizeMsg:
		model.width = message.Width
		model.height = message.Height
		model.help.Width = message.Width
	}
	return model, nil
}

// refresh takes a new snapshot when the engine changed. Every accepted
// transfer frame marks it dirty, so receiving progress is covered too.
func (model *Model) refresh() {
	if model.engine.TakeUpdate() {
		model.view = model.engine.View()
	}
}

// View implements tea.Model.
func (model Model) View() string {
	v := model.view
	var body string
	switch v.State {
	case session.CheckPeer, session.WaitForPeer:
		status := "Listening..."
		if v.Connected {
			status = "Connected!"
		}
		body = centered(titleStyle.Render(model.opts.DeviceName), "Waiting for companion app...", dimStyle.Render(status))

	case session.LoadList, session.ReceivingList:
		detail := "Receiving list..."
		if v.Received > 0 {
			detail = fmt.Sprintf("Receiving list... %d entries", v.Received)
		}
		body = centered(titleStyle.Render("Loading Library"), detail)

	case session.BrowsingList:
		body = model.listView()

	case session.LoadPage, session.ReceivingPage:
		lines := []string{titleStyle.Render("Loading Page"), v.PageTitle}
		if v.PageExpected > 0 {
			lines = append(lines, dimStyle.Render(fmt.Sprintf("%d / %d bytes", v.PageCoverage, v.PageExpected)))
		}
		body = centered(lines...)

	case session.DisplayPage:
		body = model.pageView()

	case session.Failed:
		body = centered(errorStyle.Render("Error"), v.Error)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		body,
		"",
		model.help.ShortHelpView(model.keys.hints(v.State)),
	)
}

// chrome is the number of rows used around the list or page.
const chrome = 5

func (model Model) listView() string {
	v := model.view
	header := headerStyle.Render("Library")
	if len(v.Catalog) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, header, "", "No entries found")
	}

	visible := max(model.height-chrome, 1)
	offset := max(0, v.Cursor-visible/2)
	var rows []string
	for i := offset; i < len(v.Catalog) && i < offset+visible; i++ {
		title := truncate(v.Catalog[i].Title, model.width-4)
		if i == v.Cursor {
			rows = append(rows, selectedStyle.Render(" "+title+" "))
		} else {
			rows = append(rows, " "+title)
		}
	}
	parts := append([]string{header}, rows...)
	if len(v.Catalog) > 1 {
		parts = append(parts, dimStyle.Render(fmt.Sprintf("%d / %d", v.Cursor+1, len(v.Catalog))))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (model Model) pageView() string {
	v := model.view
	label := fmt.Sprintf("%s  p. %d", v.PageTitle, v.PageRef.Number+1)
	if len(v.Page) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, headerStyle.Render(label), "", "Empty page")
	}
	if !v.PageComplete && v.PageExpected > 0 {
		label += fmt.Sprintf("  (%d of %d bytes)", v.PageCoverage, v.PageExpected)
	}

	cols, rows := previewSize(model.width-2, model.height-chrome-2, model.opts.DisplayWidth, model.opts.DisplayHeight)
	art := Preview(v.Page, model.opts.DisplayWidth, model.opts.DisplayHeight, cols, rows)
	return lipgloss.JoinVertical(lipgloss.Left, headerStyle.Render(label), pageStyle.Render(art))
}

// previewSize fits a width x height page into the terminal, counting a
// character cell as twice as tall as it is wide.
func previewSize(maxCols, maxRows, width, height int) (cols, rows int) {
	maxCols, maxRows = max(maxCols, 1), max(maxRows, 1)
	cols = maxCols
	rows = cols * height / width / 2
	if rows > maxRows {
		rows = maxRows
		cols = rows * 2 * width / height
	}
	return max(cols, 1), max(rows, 1)
}

func centered(lines ...string) string {
	kept := lines[:0:0]
	for _, l := range lines {
		if l != "" {
			kept = append(kept, l)
		}
	}
	block := lipgloss.JoinVertical(lipgloss.Center, kept...)
	return lipgloss.NewStyle().Padding(1, 2).Render(lipgloss.PlaceHorizontal(40, lipgloss.Center, block))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 1 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
