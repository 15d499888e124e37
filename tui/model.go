package tui

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
)

// tickMsg is fired every second to redraw countdowns.
type tickMsg time.Time

// state represents the current phase of the session keeper.
type state int

const (
	stateInit       state = iota
	stateRefreshing       // refreshing an expired token at startup
	stateReauth           // refresh token dead, starting a new device flow
	stateDeviceFlow       // device code received, showing it to the user
	statePolling          // waiting for user authorization
	stateKeepAlive        // session established, renewing in the background
	stateError            // fatal error
)

// statusKind distinguishes line types in the status log.
type statusKind int

const (
	statusOK   statusKind = iota
	statusWarn            // warning / non-fatal
	statusInfo            // neutral info
	statusErr             // error
)

// statusLine is one row in the scrolling status log.
type statusLine struct {
	kind statusKind
	text string
}

// maxStatusLines bounds the status log; the session runs for hours and the
// log must not grow with it.
const maxStatusLines = 8

// Model is the BubbleTea model for the session keeper TUI.
type Model struct {
	state   state
	spinner spinner.Model
	width   int
	height  int
	ticking bool

	// Device code info
	userCode          string
	verifyURI         string
	verifyURIComplete string
	codeExpiry        time.Time
	remaining         time.Duration

	// Session dashboard
	tokenPreview  string
	tokenType     string
	sessionExpiry time.Time
	refreshEvery  time.Duration
	probeEvery    time.Duration

	errMsg string

	// Scrolling status log shown below the main panel
	statusLines []statusLine
}

// Lipgloss styles, defined once at package level.
var (
	styleTitleBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("99")).
			Padding(0, 2)

	styleCodeBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("228")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("228")).
			Padding(0, 2)

	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleBold = lipgloss.NewStyle().Bold(true)
)

// NewModel creates the initial TUI model.
func NewModel() Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))),
	)
	return Model{
		state:   stateInit,
		spinner: s,
	}
}

// Init starts the spinner animation.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		m.remaining = max(time.Until(m.codeExpiry), 0)
		if m.tickNeeded() {
			return m, tickAfterSecond()
		}
		m.ticking = false
		return m, nil

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	// ── Session lifecycle messages ───────────────────────────────────────────

	case MsgBanner:
		return m, nil

	case MsgTokensFound:
		m.addStatus(statusOK, "Found existing tokens")
		return m, nil

	case MsgTokenValid:
		m.sessionExpiry = time.Now().Add(msg.ExpiresIn)
		m.addStatus(statusOK, "Access token is still valid")
		return m, nil

	case MsgTokenExpired:
		m.addStatus(statusWarn, "Access token expired")
		m.state = stateRefreshing
		return m, nil

	case MsgTokensNotFound:
		m.addStatus(statusInfo, "No existing tokens, starting device flow")
		return m, nil

	case MsgRefreshing:
		m.state = stateRefreshing
		m.addStatus(statusInfo, "Refreshing access token...")
		return m, nil

	case MsgRefreshOK:
		m.addStatus(statusOK, "Token refreshed successfully")
		return m, nil

	case MsgRefreshFailed:
		m.addStatus(statusWarn, "Refresh failed, starting device flow")
		return m, nil

	case MsgDeviceCodeReady:
		m.userCode = msg.UserCode
		m.verifyURI = msg.VerifyURI
		m.verifyURIComplete = msg.VerifyURIComplete
		m.codeExpiry = msg.Expiry
		m.remaining = time.Until(msg.Expiry)
		m.state = stateDeviceFlow
		m.addStatus(statusInfo, "Device code ready")
		return m, m.startTick()

	case MsgWaitingForAuth:
		m.state = statePolling
		return m, nil

	case MsgPollSlowDown:
		m.addStatus(
			statusWarn,
			fmt.Sprintf("Server requested slower polling (%s)", msg.NewInterval),
		)
		return m, nil

	case MsgAuthSuccess:
		m.addStatus(statusOK, "Authorization successful!")
		return m, nil

	case MsgTokenSaved:
		m.addStatus(statusOK, "Tokens saved to "+msg.Path)
		return m, nil

	case MsgTokenSaveFailed:
		m.addStatus(statusWarn, fmt.Sprintf("Warning: failed to save tokens: %v", msg.Err))
		return m, nil

	case MsgSessionActive:
		m.tokenPreview = msg.Preview
		m.tokenType = msg.TokenType
		m.sessionExpiry = time.Now().Add(msg.ExpiresIn)
		m.state = stateKeepAlive
		return m, m.startTick()

	case MsgKeepAliveStarted:
		m.refreshEvery = msg.RefreshEvery
		m.probeEvery = msg.ProbeEvery
		m.state = stateKeepAlive
		return m, m.startTick()

	case MsgSessionRefreshed:
		m.sessionExpiry = time.Now().Add(msg.ExpiresIn)
		m.addStatus(statusOK, "Session refreshed")
		return m, nil

	case MsgProbeOK:
		m.addStatus(statusOK, "Session verified")
		return m, nil

	case MsgProbeFailed:
		m.addStatus(statusWarn, fmt.Sprintf("Probe failed: %v", msg.Err))
		return m, nil

	case MsgReAuthRequired:
		m.state = stateReauth
		m.addStatus(statusWarn, "Refresh token expired, re-authenticating...")
		return m, nil

	case MsgStopping:
		m.addStatus(statusInfo, "Shutting down")
		return m, nil

	case MsgFatal:
		m.errMsg = msg.Err.Error()
		m.state = stateError
		return m, nil

	case MsgLog:
		kind := statusInfo
		switch {
		case msg.Level >= slog.LevelError:
			kind = statusErr
		case msg.Level >= slog.LevelWarn:
			kind = statusWarn
		}
		m.addStatus(kind, msg.Text)
		return m, nil
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() tea.View {
	if m.state == stateError {
		return tea.NewView(m.viewError())
	}
	return tea.NewView(m.viewMain())
}

// viewMain is shown for every phase except a fatal error.
func (m Model) viewMain() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  AuthGate Session Keeper  "))
	b.WriteString("\n\n")

	switch m.state {
	case stateDeviceFlow, statePolling:
		b.WriteString(styleBold.Render("Open this link to authorize:"))
		b.WriteString("\n")
		b.WriteString(m.verifyURIComplete)
		b.WriteString("\n\n")

		b.WriteString(styleDim.Render("Or visit: " + m.verifyURI))
		b.WriteString("\n")
		b.WriteString(styleDim.Render("Enter code:"))
		b.WriteString("\n\n")

		b.WriteString(styleCodeBox.Render("  " + m.userCode + "  "))
		b.WriteString("\n\n")

		if m.remaining > 0 {
			b.WriteString(m.spinner.View())
			b.WriteString(" Waiting for authorization...  ")
			b.WriteString(styleDim.Render(formatDuration(m.remaining) + " remaining"))
		} else if m.state == statePolling {
			b.WriteString(m.spinner.View())
			b.WriteString(" Waiting for authorization...")
		}
		b.WriteString("\n")

	case stateRefreshing:
		b.WriteString(m.spinner.View())
		b.WriteString(" Refreshing access token...\n")

	case stateReauth:
		b.WriteString(m.spinner.View())
		b.WriteString(" Re-authenticating...\n")

	case stateKeepAlive:
		b.WriteString(m.viewSession())

	default:
		b.WriteString(m.spinner.View())
		b.WriteString(" Initializing...\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewSession is the dashboard shown while the session is kept alive.
func (m Model) viewSession() string {
	var b strings.Builder

	b.WriteString(styleOK.Render("● Session active"))
	b.WriteString("\n\n")

	b.WriteString(styleBold.Render("Access Token: "))
	b.WriteString(m.tokenPreview + "...\n")

	b.WriteString(styleBold.Render("Token Type:   "))
	b.WriteString(m.tokenType + "\n")

	b.WriteString(styleBold.Render("Expires In:   "))
	if expires := time.Until(m.sessionExpiry); expires > 0 {
		b.WriteString(formatDuration(expires) + "\n")
	} else {
		b.WriteString(styleWarn.Render("expired, renewal due") + "\n")
	}

	if m.refreshEvery > 0 {
		line := "Renews every " + formatDuration(m.refreshEvery)
		if m.probeEvery > 0 {
			line += ", probe every " + formatDuration(m.probeEvery)
		}
		b.WriteString(styleDim.Render(line))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.spinner.View())
	b.WriteString(" Keeping session alive...\n")
	return b.String()
}

// viewError is shown when a fatal error occurs.
func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleErr.Render("  ✗ Session lost"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  " + m.errMsg))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewStatusLog renders the scrolling status log.
func (m Model) viewStatusLog() string {
	if len(m.statusLines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	for _, line := range m.statusLines {
		switch line.kind {
		case statusOK:
			b.WriteString(styleOK.Render("  ✓ " + line.text))
		case statusWarn:
			b.WriteString(styleWarn.Render("  ⚠ " + line.text))
		case statusErr:
			b.WriteString(styleErr.Render("  ✗ " + line.text))
		default:
			b.WriteString(styleDim.Render("  · " + line.text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// addStatus appends a line to the status log, dropping the oldest lines
// past maxStatusLines.
func (m *Model) addStatus(kind statusKind, text string) {
	m.statusLines = append(m.statusLines, statusLine{kind: kind, text: text})
	if len(m.statusLines) > maxStatusLines {
		m.statusLines = m.statusLines[len(m.statusLines)-maxStatusLines:]
	}
}

// startTick begins the once-per-second redraw chain unless one is already
// running.
func (m *Model) startTick() tea.Cmd {
	if m.ticking {
		return nil
	}
	m.ticking = true
	return tickAfterSecond()
}

// tickNeeded reports whether some visible countdown needs redrawing.
func (m Model) tickNeeded() bool {
	switch m.state {
	case stateDeviceFlow, statePolling:
		return m.remaining > 0
	case stateKeepAlive:
		return true
	}
	return false
}

// tickAfterSecond returns a command that fires tickMsg after one second.
func tickAfterSecond() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// formatDuration formats a duration as "Xh Ym", "Xm Ys" or "Xs". Session
// expiries can be hours out, device codes only minutes.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
