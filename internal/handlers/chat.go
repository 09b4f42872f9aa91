package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"slices"
	"strings"

	"github.com/MegaGrindStone/ollama-cli/internal/models"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
)

// Chatter streams the reply to a single user message from a model.
type Chatter interface {
	Chat(ctx context.Context, model string, message models.Message) iter.Seq2[string, error]
}

// SessionState is a state of a ChatSession.
type SessionState int

// Chat session states. A session starts in StateAwaitingPrompt; StateTerminated is final.
const (
	StateAwaitingPrompt SessionState = iota
	StateStreaming
	StateSubMenu
	StateTerminated
)

func (s SessionState) String() string {
	switch s {
	case StateAwaitingPrompt:
		return "awaiting-prompt"
	case StateStreaming:
		return "streaming"
	case StateSubMenu:
		return "sub-menu"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// DefaultExitKeywords end a chat session when typed at the prompt, in any letter case.
var DefaultExitKeywords = []string{"exit", "quit", "q"}

const (
	continueKey = "c"
	quitKey     = "q"
)

// ChatSession is one interactive conversation with a single model. Each prompt is sent to the model on
// its own, without the earlier turns. After every reply the user chooses to continue or to quit.
//
// A ChatSession is not safe for concurrent use.
type ChatSession struct {
	id           string
	model        string
	exitKeywords []string

	chatter Chatter
	in      InputReader
	out     io.Writer

	state     SessionState
	prompt    string
	lastReply string
	err       error

	notice lipgloss.Style
	muted  lipgloss.Style

	logger *slog.Logger
}

// ChatSessionOption configures a ChatSession.
type ChatSessionOption func(*ChatSession)

// WithExitKeywords replaces the keywords that end the session at the prompt. An empty list keeps the
// defaults.
func WithExitKeywords(keywords []string) ChatSessionOption {
	return func(s *ChatSession) {
		if len(keywords) > 0 {
			s.exitKeywords = keywords
		}
	}
}

// NewChatSession creates a new ChatSession with model as its active model. It returns an error if model
// is empty.
func NewChatSession(
	model string,
	chatter Chatter,
	in InputReader,
	out io.Writer,
	logger *slog.Logger,
	options ...ChatSessionOption,
) (*ChatSession, error) {
	if model == "" {
		return nil, errors.New("chat session requires a model")
	}

	id := uuid.NewString()
	r := lipgloss.NewRenderer(out)
	s := &ChatSession{
		id:           id,
		model:        model,
		exitKeywords: DefaultExitKeywords,
		chatter:      chatter,
		in:           in,
		out:          out,
		state:        StateAwaitingPrompt,
		notice:       r.NewStyle().Foreground(lipgloss.Color("9")),
		muted:        r.NewStyle().Faint(true),
		logger: logger.With(
			slog.String("module", "chat"),
			slog.String("session", id),
			slog.String("model", model)),
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// ID returns the session identifier used in logs.
func (s *ChatSession) ID() string { return s.id }

// Model returns the session's active model.
func (s *ChatSession) Model() string { return s.model }

// State returns the current state.
func (s *ChatSession) State() SessionState { return s.state }

// LastReply returns the text the model streamed for the latest prompt, partial if the stream broke.
func (s *ChatSession) LastReply() string { return s.lastReply }

// Run drives the session until it terminates. It returns nil when the user leaves the session, and the
// stream error, wrapping models.ErrChatFailed, when a reply breaks off. Running a terminated session
// returns models.ErrSessionTerminated.
func (s *ChatSession) Run(ctx context.Context) error {
	if s.state == StateTerminated {
		return models.ErrSessionTerminated
	}

	fmt.Fprintf(s.out, "\n--- CHAT STARTED WITH %s (Type '%s' to quit) ---\n", s.model, s.exitKeywords[0])
	s.logger.Info("Chat session started")

	for s.state != StateTerminated {
		s.step(ctx)
	}

	s.logger.Info("Chat session ended")
	return s.err
}

// step performs exactly one state transition.
func (s *ChatSession) step(ctx context.Context) {
	switch s.state {
	case StateAwaitingPrompt:
		s.awaitPrompt()
	case StateStreaming:
		s.stream(ctx)
	case StateSubMenu:
		s.subMenu()
	case StateTerminated:
	}
}

func (s *ChatSession) awaitPrompt() {
	fmt.Fprint(s.out, "\nYou: ")
	line, err := s.in.ReadLine()
	if err != nil {
		s.terminate(err)
		return
	}

	switch {
	case line == "":
		return
	case s.isExit(line):
		fmt.Fprintln(s.out, "Returning to Main Menu...")
		s.state = StateTerminated
	default:
		s.prompt = line
		s.state = StateStreaming
	}
}

func (s *ChatSession) isExit(line string) bool {
	return slices.ContainsFunc(s.exitKeywords, func(k string) bool {
		return strings.EqualFold(line, k)
	})
}

func (s *ChatSession) stream(ctx context.Context) {
	fmt.Fprintf(s.out, "Llama (%s): ", s.model)

	var reply strings.Builder
	defer func() { s.lastReply = reply.String() }()

	for fragment, err := range s.chatter.Chat(ctx, s.model, models.UserMessage(s.prompt)) {
		if err != nil {
			s.logger.Error("Chat stream broke off",
				slog.Int("received", reply.Len()),
				slog.String(errLoggerKey, err.Error()))
			fmt.Fprintln(s.out)
			fmt.Fprintln(s.out, s.notice.Render(fmt.Sprintf("Error during chat: %s", err)))
			s.err = err
			s.state = StateTerminated
			return
		}
		reply.WriteString(fragment)
		fmt.Fprint(s.out, fragment)
	}

	fmt.Fprintln(s.out)
	s.state = StateSubMenu
}

func (s *ChatSession) subMenu() {
	fmt.Fprint(s.out, "\n"+s.muted.Render("[c] Continue chatting | [q] Quit to main menu: "))
	line, err := s.in.ReadLine()
	if err != nil {
		s.terminate(err)
		return
	}

	switch strings.ToLower(line) {
	case continueKey:
		s.state = StateAwaitingPrompt
	case quitKey:
		fmt.Fprintln(s.out, "Returning to Main Menu...")
		s.state = StateTerminated
	default:
		fmt.Fprintln(s.out, "Invalid input. Please enter 'c' or 'q'.")
	}
}

// terminate ends the session on an input failure. Running out of input is a normal way to leave.
func (s *ChatSession) terminate(err error) {
	s.state = StateTerminated
	if errors.Is(err, io.EOF) {
		fmt.Fprintln(s.out)
		return
	}
	s.logger.Error("Failed to read input", slog.String(errLoggerKey, err.Error()))
	s.err = fmt.Errorf("failed to read input: %w", err)
}
