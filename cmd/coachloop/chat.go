package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/coachloop/coachloop/internal/client"
	"github.com/coachloop/coachloop/internal/device"
	"github.com/coachloop/coachloop/internal/event"
	"github.com/coachloop/coachloop/internal/stream"
)

func runChat(args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	apiBase := fs.String("api", "http://127.0.0.1:8090", "base URL for coachloop API")
	token := fs.String("token", os.Getenv("COACHLOOP_TOKEN"), "JWT for API auth")
	sessionID := fs.String("session", "", "existing session id (default: start a new session)")
	coachID := fs.String("coach", "", "coach id for a new session")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*token) == "" {
		return fmt.Errorf("token is required (use --token or COACHLOOP_TOKEN)")
	}

	// The TUI owns the terminal, so client logs go nowhere.
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	api := client.New(strings.TrimRight(*apiBase, "/"), *token, logger)

	ctx := context.Background()
	var sID string
	if *sessionID != "" {
		sess, err := api.GetSession(ctx, *sessionID)
		if err != nil {
			return err
		}
		sID = sess.ID
	} else {
		var cID *string
		if *coachID != "" {
			cID = coachID
		}
		sess, err := api.CreateSession(ctx, cID, "")
		if err != nil {
			return err
		}
		sID = sess.ID
	}

	questions := make(chan askMsg, 4)
	confirm := func(toolID string, input json.RawMessage) bool {
		reply := make(chan bool, 1)
		questions <- askMsg{prompt: fmt.Sprintf("Coach wants to run %s. Allow? (y/n)", toolID), reply: reply}
		return <-reply
	}
	gate := device.NewGate(func(cap device.Capability) bool {
		reply := make(chan bool, 1)
		questions <- askMsg{prompt: fmt.Sprintf("Allow access to %s? (y/n)", cap), reply: reply}
		return <-reply
	})
	runner := device.NewRunner(api, device.NativeActions(), gate, confirm, logger)

	p := tea.NewProgram(newChatModel(api, runner, sID, questions), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

type envMsg struct {
	env event.Envelope
	err error
	eof bool
}

type turnStartedMsg struct {
	reader *stream.Reader
}

type askMsg struct {
	prompt string
	reply  chan bool
}

type outcomeMsg struct {
	toolID  string
	outcome device.Outcome
	err     error
}

type resumeDoneMsg struct {
	err error
}

type chatModel struct {
	api       *client.Client
	runner    *device.Runner
	sessionID string

	input      textinput.Model
	transcript []string
	partial    string
	streaming  bool
	reader     *stream.Reader
	events     chan envMsg
	questions  chan askMsg
	ask        *askMsg

	width  int
	height int
	err    error
}

func newChatModel(api *client.Client, runner *device.Runner, sessionID string, questions chan askMsg) chatModel {
	ti := textinput.New()
	ti.Placeholder = "Say something to your coach..."
	ti.Focus()
	ti.CharLimit = 2000
	return chatModel{
		api:       api,
		runner:    runner,
		sessionID: sessionID,
		input:     ti,
		questions: questions,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		waitForQuestionCmd(m.questions),
		resumeCmd(m.runner),
	)
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = msg.Width - 4
		return m, nil

	case tea.KeyMsg:
		if m.ask != nil {
			switch msg.String() {
			case "y", "Y":
				m.ask.reply <- true
				m.ask = nil
			case "n", "N", "esc":
				m.ask.reply <- false
				m.ask = nil
			}
			return m, nil
		}
		switch msg.String() {
		case "ctrl+c":
			if m.reader != nil {
				_ = m.reader.Close()
			}
			return m, tea.Quit
		case "esc":
			// Stopping a turn mid-stream is a silent cancel, not an error.
			if m.streaming && m.reader != nil {
				_ = m.reader.Close()
				m.streaming = false
				m.reader = nil
				if m.partial != "" {
					m.transcript = append(m.transcript, "coach: "+m.partial+" [stopped]")
					m.partial = ""
				}
			}
			return m, nil
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.streaming {
				return m, nil
			}
			m.input.Reset()
			m.transcript = append(m.transcript, "you: "+text)
			m.events = make(chan envMsg, 32)
			m.streaming = true
			m.err = nil
			return m, tea.Batch(
				startTurnCmd(m.api, m.sessionID, text, m.events),
				waitForEnvCmd(m.events),
			)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case turnStartedMsg:
		m.reader = msg.reader
		return m, nil

	case envMsg:
		if msg.err != nil {
			m.err = msg.err
			m.streaming = false
			m.reader = nil
			return m, nil
		}
		if msg.eof {
			m.streaming = false
			m.reader = nil
			return m, nil
		}
		cmd := m.handleEnvelope(msg.env)
		return m, tea.Batch(waitForEnvCmd(m.events), cmd)

	case askMsg:
		m.ask = &msg
		return m, waitForQuestionCmd(m.questions)

	case outcomeMsg:
		line := fmt.Sprintf("[%s: %s]", msg.toolID, msg.outcome)
		if msg.err != nil {
			line = fmt.Sprintf("[%s: %v]", msg.toolID, msg.err)
		}
		m.transcript = append(m.transcript, line)
		return m, nil

	case resumeDoneMsg:
		if msg.err != nil {
			m.transcript = append(m.transcript, fmt.Sprintf("[resume: %v]", msg.err))
		}
		return m, nil

	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
}

func (m *chatModel) handleEnvelope(env event.Envelope) tea.Cmd {
	switch env.Type {
	case event.TypeMessageDelta:
		var p event.MessageDelta
		if err := json.Unmarshal(env.Data, &p); err == nil {
			m.partial += p.Text
		}
	case event.TypeMessageFinal:
		var p event.MessageFinal
		if err := json.Unmarshal(env.Data, &p); err == nil {
			m.transcript = append(m.transcript, "coach: "+p.Text)
		}
		m.partial = ""
	case event.TypeCardNextActions:
		var p event.CardNextActions
		if err := json.Unmarshal(env.Data, &p); err == nil {
			m.transcript = append(m.transcript, "next actions:")
			for _, a := range p.Actions {
				m.transcript = append(m.transcript, "  - "+a)
			}
		}
	case event.TypeCardPlan:
		var p event.CardPlan
		if err := json.Unmarshal(env.Data, &p); err == nil {
			m.transcript = append(m.transcript, "plan: "+p.Title)
			for _, s := range p.Steps {
				mark := "[ ]"
				if s.Done {
					mark = "[x]"
				}
				m.transcript = append(m.transcript, "  "+mark+" "+s.Label)
			}
		}
	case event.TypeCardWeeklyReview:
		var p event.CardWeeklyReview
		if err := json.Unmarshal(env.Data, &p); err == nil {
			m.transcript = append(m.transcript, "weekly review:")
			for _, h := range p.Highlights {
				m.transcript = append(m.transcript, "  * "+h)
			}
			if p.Focus != "" {
				m.transcript = append(m.transcript, "  focus: "+p.Focus)
			}
		}
	case event.TypeToolRequest:
		var p event.ToolRequest
		if err := json.Unmarshal(env.Data, &p); err == nil {
			return runToolCmd(m.runner, p)
		}
	case event.TypePolicyNotice:
		var p event.PolicyNotice
		if err := json.Unmarshal(env.Data, &p); err == nil {
			m.transcript = append(m.transcript, "[notice: "+p.Message+"]")
		}
	case event.TypeError:
		var p event.ErrorPayload
		if err := json.Unmarshal(env.Data, &p); err == nil {
			m.transcript = append(m.transcript, "[error: "+p.Message+"]")
		}
		m.streaming = false
	case event.TypeStreamDone:
		m.streaming = false
	}
	return nil
}

func (m chatModel) View() string {
	accent := lipgloss.Color("#0EA5E9")
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#0B1120")).
		Background(accent).
		Padding(0, 1).
		Render("coachloop")

	meta := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#7DD3FC")).
		Render("session=" + m.sessionID)

	maxLines := m.height - 6
	if maxLines < 5 {
		maxLines = 5
	}
	lines := m.transcript
	if m.partial != "" {
		lines = append(append([]string{}, lines...), "coach: "+m.partial)
	}
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	body := strings.Join(lines, "\n")

	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#7DD3FC")).
		Render("enter: send  esc: stop  ctrl+c: quit")
	if m.streaming {
		footer = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7DD3FC")).
			Render("coach is typing...  esc: stop  ctrl+c: quit")
	}
	if m.err != nil {
		footer = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Render("error: " + m.err.Error())
	}

	prompt := m.input.View()
	if m.ask != nil {
		prompt = lipgloss.NewStyle().
			Bold(true).
			Foreground(accent).
			Render(m.ask.prompt)
	}

	return strings.Join([]string{title + " " + meta, "", body, "", prompt, footer}, "\n")
}

func startTurnCmd(api *client.Client, sessionID, text string, out chan envMsg) tea.Cmd {
	return func() tea.Msg {
		reader, err := api.StartTurn(context.Background(), sessionID, text)
		if err != nil {
			out <- envMsg{err: err}
			return nil
		}
		go func() {
			for reader.Scan() {
				out <- envMsg{env: reader.Envelope()}
			}
			if err := reader.Err(); err != nil {
				out <- envMsg{err: err}
				return
			}
			out <- envMsg{eof: true}
		}()
		return turnStartedMsg{reader: reader}
	}
}

func waitForEnvCmd(in <-chan envMsg) tea.Cmd {
	return func() tea.Msg {
		return <-in
	}
}

func waitForQuestionCmd(in <-chan askMsg) tea.Cmd {
	return func() tea.Msg {
		return <-in
	}
}

func runToolCmd(runner *device.Runner, req event.ToolRequest) tea.Cmd {
	return func() tea.Msg {
		outcome, err := runner.Handle(context.Background(), req)
		return outcomeMsg{toolID: req.ToolID, outcome: outcome, err: err}
	}
}

func resumeCmd(runner *device.Runner) tea.Cmd {
	return func() tea.Msg {
		return resumeDoneMsg{err: runner.Resume(context.Background())}
	}
}
