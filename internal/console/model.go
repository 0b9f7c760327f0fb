// Package console renders the chat launcher in a terminal.
package console

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"association-chat/internal/directory"
	"association-chat/internal/launcher"
	"association-chat/internal/models"
	"association-chat/internal/push"
	"association-chat/internal/thread"
)

// Typing "/file <path>" in the message input uploads a file.
const fileCommand = "/file "

type focus int

const (
	focusDirectory focus = iota
	focusFilter
	focusThread
)

type changedMsg struct{}

type errMsg struct{ err error }

// Model is the bubbletea model of the chat overlay.
type Model struct {
	shell   *launcher.Shell
	changes <-chan struct{}
	now     func() time.Time
	ctx     context.Context

	width  int
	height int
	focus  focus
	cursor int

	filter   textinput.Model
	input    textinput.Model
	viewport viewport.Model

	err error
}

// New builds the model and subscribes it to shell changes. The returned
// function unsubscribes.
func New(ctx context.Context, shell *launcher.Shell) (Model, func()) {
	changes := make(chan struct{}, 1)
	off := shell.Subscribe(func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	})

	filter := textinput.New()
	filter.Placeholder = "Filter by name..."
	filter.CharLimit = 64
	filter.Width = 24

	input := textinput.New()
	input.Placeholder = "Type a message, or /file <path>"
	input.CharLimit = 2000
	input.Width = 50

	return Model{
		shell:    shell,
		changes:  changes,
		now:      time.Now,
		ctx:      ctx,
		filter:   filter,
		input:    input,
		viewport: viewport.New(60, 16),
		width:    100,
		height:   24,
	}, off
}

// Run starts the terminal program and blocks until the user quits.
func Run(ctx context.Context, shell *launcher.Shell) error {
	m, off := New(ctx, shell)
	defer off()
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return changedMsg{}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForChange(m.changes))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		m.syncViewport()
		return m, nil

	case changedMsg:
		m.clampCursor()
		m.syncViewport()
		return m, waitForChange(m.changes)

	case errMsg:
		m.err = msg.err
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "ctrl+o":
		if !m.shell.Toggle() {
			m.blurAll()
			m.focus = focusDirectory
		}
		return m, nil
	}

	if !m.shell.Visible() {
		if msg.String() == "q" {
			return m, tea.Quit
		}
		return m, nil
	}

	switch m.focus {
	case focusFilter:
		return m.handleFilterKey(msg)
	case focusThread:
		return m.handleThreadKey(msg)
	default:
		return m.handleDirectoryKey(msg)
	}
}

func (m Model) handleDirectoryKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	dir := m.shell.Directory()
	switch msg.String() {
	case "esc":
		m.shell.Toggle()
		return m, nil
	case "tab":
		dir.NextTab()
		m.cursor = 0
	case "/":
		m.focus = focusFilter
		return m, m.filter.Focus()
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.rows())-1 {
			m.cursor++
		}
	case "enter":
		rows := m.rows()
		if m.cursor >= len(rows) {
			return m, nil
		}
		c := rows[m.cursor].Counterpart
		m.focus = focusThread
		m.err = nil
		return m, tea.Batch(m.input.Focus(), m.selectCmd(c))
	}
	return m, nil
}

func (m Model) handleFilterKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "enter":
		m.filter.Blur()
		m.focus = focusDirectory
		return m, nil
	}
	var cmd tea.Cmd
	m.filter, cmd = m.filter.Update(msg)
	m.shell.Directory().SetQuery(m.filter.Value())
	m.cursor = 0
	return m, cmd
}

func (m Model) handleThreadKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.input.Blur()
		m.input.Reset()
		m.focus = focusDirectory
		m.shell.CloseThread()
		return m, nil
	case "enter":
		text := m.input.Value()
		m.input.Reset()
		if path, ok := strings.CutPrefix(text, fileCommand); ok {
			return m, m.sendFileCmd(strings.TrimSpace(path))
		}
		return m, m.sendCmd(text)
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.input.Value() != before {
		return m, tea.Batch(cmd, m.keystrokeCmd())
	}
	return m, cmd
}

func (m Model) selectCmd(c models.Counterpart) tea.Cmd {
	return func() tea.Msg {
		m.shell.Select(m.ctx, c)
		return nil
	}
}

func (m Model) sendCmd(text string) tea.Cmd {
	th := m.shell.Thread()
	return func() tea.Msg {
		if err := th.Send(m.ctx, text); err != nil && !errors.Is(err, thread.ErrEmptyContent) {
			return errMsg{err: fmt.Errorf("send: %w", err)}
		}
		return nil
	}
}

func (m Model) sendFileCmd(path string) tea.Cmd {
	th := m.shell.Thread()
	return func() tea.Msg {
		if err := th.SendFile(m.ctx, path); err != nil {
			return errMsg{err: err}
		}
		return nil
	}
}

func (m Model) keystrokeCmd() tea.Cmd {
	th := m.shell.Thread()
	return func() tea.Msg {
		th.Keystroke(m.ctx)
		return nil
	}
}

func (m *Model) blurAll() {
	m.filter.Blur()
	m.input.Blur()
}

func (m Model) rows() []directory.Row {
	v := m.shell.Directory().Render(m.now())
	if v.Tab == directory.TabStaff {
		return v.Staff
	}
	return v.Conversations
}

func (m *Model) clampCursor() {
	if n := len(m.rows()); m.cursor >= n {
		m.cursor = max(n-1, 0)
	}
}

func (m Model) paneWidths() (int, int) {
	left := max(m.width/3, 28)
	return left, max(m.width-left-4, 20)
}

func (m *Model) resize() {
	_, right := m.paneWidths()
	m.viewport.Width = right - 4
	m.viewport.Height = max(m.height-9, 3)
	m.input.Width = right - 6
}

func (m *Model) syncViewport() {
	m.viewport.SetContent(m.renderMessages(m.shell.Thread().View()))
	m.viewport.GotoBottom()
}

func (m Model) renderMessages(v thread.View) string {
	self := m.shell.Session().User.ID
	var b strings.Builder
	for _, msg := range v.Messages {
		style, name := otherMessageStyle, msg.Sender.Name
		if msg.SenderKey() == self {
			style, name = ownMessageStyle, "You"
		}
		content := msg.Content
		if msg.Type == models.MessageTypeFile {
			content = "[file] " + content
		}
		fmt.Fprintf(&b, "%s %s: %s\n",
			mutedStyle.Render(msg.CreatedAt.Local().Format("15:04")),
			style.Render(name),
			content,
		)
	}
	return b.String()
}

func (m Model) View() string {
	status := m.statusLine()
	if !m.shell.Visible() {
		return status + "\n" + mutedStyle.Render("ctrl+o open chat · q quit")
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top, m.directoryView(), m.threadView())
	footer := mutedStyle.Render("ctrl+o hide · tab switch list · / filter · enter open · esc back")
	if m.err != nil {
		footer = errorStyle.Render(m.err.Error())
	}
	return lipgloss.JoinVertical(lipgloss.Left, status, body, footer)
}

func (m Model) statusLine() string {
	parts := []string{titleStyle.Render("Chat")}
	if badge := m.shell.Counter().Badge(); badge != "" {
		parts = append(parts, badgeStyle.Render(badge))
	}
	parts = append(parts, connectionLabel(m.shell.ConnectionState(), m.shell.Transport()))
	return strings.Join(parts, " ")
}

func connectionLabel(st push.State, transport string) string {
	switch st {
	case push.StateOpen:
		return onlineDot + " " + mutedStyle.Render("connected via "+transport)
	case push.StateConnecting:
		return offlineDot + " " + mutedStyle.Render("connecting...")
	case push.StateError:
		return errorStyle.Render("● connection lost, retrying")
	default:
		return offlineDot + " " + mutedStyle.Render("offline")
	}
}

func (m Model) directoryView() string {
	left, _ := m.paneWidths()
	v := m.shell.Directory().Render(m.now())

	var b strings.Builder
	for _, tab := range []directory.Tab{directory.TabConversations, directory.TabStaff} {
		label := strings.ToUpper(tab.String()[:1]) + tab.String()[1:]
		if tab == v.Tab {
			b.WriteString(activeTabStyle.Render(label))
		} else {
			b.WriteString(tabStyle.Render(label))
		}
	}
	b.WriteString("\n" + m.filter.View() + "\n\n")

	rows, empty := v.Conversations, v.EmptyConversations
	if v.Tab == directory.TabStaff {
		rows, empty = v.Staff, v.EmptyStaff
	}
	if empty != "" {
		b.WriteString(mutedStyle.Render(empty))
	}
	for i, row := range rows {
		line := renderRow(row)
		if i == m.cursor && m.focus == focusDirectory {
			b.WriteString(selectedRowStyle.Render(line) + "\n")
		} else {
			b.WriteString(rowStyle.Render(line) + "\n")
		}
	}

	style := paneStyle.Width(left).Height(max(m.height-4, 5))
	if m.focus != focusThread {
		style = style.BorderForeground(activeBorder)
	}
	return style.Render(b.String())
}

func renderRow(row directory.Row) string {
	dot := offlineDot
	if row.Online {
		dot = onlineDot
	}
	line := dot + " " + row.Counterpart.Name
	if row.When != "" {
		line += " " + mutedStyle.Render(row.When)
	}
	if row.Badge != "" {
		line += " " + badgeStyle.Render(row.Badge)
	}
	if row.Preview != "" {
		line += "\n" + mutedStyle.Render(row.Preview)
	}
	return line
}

func (m Model) threadView() string {
	_, right := m.paneWidths()
	style := paneStyle.Width(right).Height(max(m.height-4, 5))
	if m.focus == focusThread {
		style = style.BorderForeground(activeBorder)
	}

	v := m.shell.Thread().View()
	switch v.State {
	case thread.StateNoSelection:
		return style.Render(mutedStyle.Render("Select a conversation to start chatting"))
	case thread.StateLoading:
		return style.Render(titleStyle.Render(v.Counterpart.Name) + "\n\n" + mutedStyle.Render("Loading..."))
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(v.Counterpart.Name) + "\n")
	b.WriteString(m.viewport.View() + "\n")
	if v.RemoteTyping {
		b.WriteString(typingStyle.Render(v.Counterpart.Name+" is typing...") + "\n")
	} else {
		b.WriteString("\n")
	}
	b.WriteString(m.input.View())
	return style.Render(b.String())
}
