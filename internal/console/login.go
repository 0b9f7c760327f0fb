package console

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var ErrLoginCancelled = errors.New("login cancelled")

// Credentials are what the login form collects.
type Credentials struct {
	Email    string
	Password string
}

type loginModel struct {
	email    textinput.Model
	password textinput.Model
	focused  int
	hint     string

	done      bool
	cancelled bool
}

func newLoginModel(hint string) loginModel {
	email := textinput.New()
	email.Placeholder = "Email"
	email.CharLimit = 128
	email.Width = 32
	email.Focus()

	password := textinput.New()
	password.Placeholder = "Password"
	password.EchoMode = textinput.EchoPassword
	password.CharLimit = 128
	password.Width = 32

	return loginModel{email: email, password: password, hint: hint}
}

func (m loginModel) Init() tea.Cmd { return textinput.Blink }

func (m loginModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "ctrl+c", "esc":
		m.cancelled = true
		return m, tea.Quit
	case "tab", "shift+tab", "up", "down":
		return m, m.toggleFocus()
	case "enter":
		if m.focused == 0 {
			return m, m.toggleFocus()
		}
		if strings.TrimSpace(m.email.Value()) == "" || m.password.Value() == "" {
			m.hint = "Email and password are required"
			return m, nil
		}
		m.done = true
		return m, tea.Quit
	}

	var cmd tea.Cmd
	if m.focused == 0 {
		m.email, cmd = m.email.Update(msg)
	} else {
		m.password, cmd = m.password.Update(msg)
	}
	return m, cmd
}

func (m *loginModel) toggleFocus() tea.Cmd {
	if m.focused == 0 {
		m.focused = 1
		m.email.Blur()
		return m.password.Focus()
	}
	m.focused = 0
	m.password.Blur()
	return m.email.Focus()
}

func (m loginModel) credentials() Credentials {
	return Credentials{Email: strings.TrimSpace(m.email.Value()), Password: m.password.Value()}
}

func (m loginModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Association chat · sign in") + "\n\n")
	b.WriteString(m.email.View() + "\n")
	b.WriteString(m.password.View() + "\n\n")
	if m.hint != "" {
		b.WriteString(errorStyle.Render(m.hint) + "\n")
	}
	b.WriteString(mutedStyle.Render("enter submit · tab switch field · esc cancel"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(primaryColor).
		Padding(1, 2).
		Render(b.String())
}

// PromptLogin shows the sign-in form. hint is shown above the controls, for
// example after a rejected attempt.
func PromptLogin(ctx context.Context, hint string) (Credentials, error) {
	final, err := tea.NewProgram(newLoginModel(hint), tea.WithContext(ctx)).Run()
	if err != nil {
		return Credentials{}, err
	}
	m := final.(loginModel)
	if m.cancelled || !m.done {
		return Credentials{}, ErrLoginCancelled
	}
	return m.credentials(), nil
}
