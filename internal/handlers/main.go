package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	"github.com/MegaGrindStone/ollama-cli/internal/models"
	"github.com/charmbracelet/lipgloss"
)

// Daemon is the local model daemon the menu operates on. Listing calls return fresh snapshots; Pull and
// Chat stream their results and end with at most one error.
type Daemon interface {
	Chatter

	Ping(ctx context.Context) bool
	ListInstalled(ctx context.Context) ([]models.InstalledModel, error)
	ListRunning(ctx context.Context) ([]models.RunningModel, error)
	Pull(ctx context.Context, name string) iter.Seq2[models.PullProgress, error]
	Delete(ctx context.Context, name string) error
	Unload(ctx context.Context, name string) error
}

// Registry lists the models published in the public library.
type Registry interface {
	URL() string
	Models(ctx context.Context) ([]models.RemoteModel, error)
}

// Files reads the daemon's files from local disk.
type Files interface {
	PublicKey() (string, string, error)
	ManifestRoot() string
	Manifests() ([]models.Manifest, error)
	Paths() []models.PathEntry
}

// Main is the interactive menu. It owns the terminal streams and dispatches each numbered choice to its
// handler. Handlers report their own failures and never end the menu.
type Main struct {
	daemon   Daemon
	registry Registry
	files    Files

	in  InputReader
	out io.Writer

	exitKeywords   []string
	inlineProgress bool

	styles styles

	logger *slog.Logger
}

// MainOption configures Main.
type MainOption func(*Main)

type styles struct {
	title  lipgloss.Style
	online lipgloss.Style
	failed lipgloss.Style
	ok     lipgloss.Style
	muted  lipgloss.Style
	header lipgloss.Style
	cell   lipgloss.Style
}

type menuItem struct {
	key    string
	label  string
	handle func(Main, context.Context) error
}

var menu = []menuItem{
	{"1", "Run/CHAT with a specific model", Main.HandleChat},
	{"2", "List ALL Remote Library Models (Live)", Main.HandleListRemote},
	{"3", "Search Remote Library Models", Main.HandleSearchRemote},
	{"4", "List Installed Local Models", Main.HandleListInstalled},
	{"5", "Show Running Models (ps)", Main.HandlePs},
	{"6", "Pull a New Model", Main.HandlePull},
	{"7", "Remove a Model", Main.HandleRemove},
	{"8", "Stop/Unload a Model", Main.HandleStop},
	{"9", "Show Ollama Public Keys", Main.HandlePublicKey},
	{"10", "List Manifests & Sizes", Main.HandleManifests},
	{"11", "Show Linux File Paths", Main.HandlePaths},
}

const errLoggerKey = "err"

const separatorWidth = 80

// WithChatExitKeywords sets the keywords that end a chat session.
func WithChatExitKeywords(keywords []string) MainOption {
	return func(m *Main) {
		m.exitKeywords = keywords
	}
}

// WithInlineProgress makes pull progress overwrite a single terminal line instead of printing a line per
// status. Only enable it when the output is a terminal.
func WithInlineProgress(inline bool) MainOption {
	return func(m *Main) {
		m.inlineProgress = inline
	}
}

// NewMain creates a new Main reading user input from in and writing to out.
func NewMain(
	daemon Daemon,
	registry Registry,
	files Files,
	in InputReader,
	out io.Writer,
	logger *slog.Logger,
	options ...MainOption,
) (Main, error) {
	if daemon == nil || registry == nil || files == nil {
		return Main{}, errors.New("daemon, registry and files are required")
	}
	if in == nil || out == nil {
		return Main{}, errors.New("input and output are required")
	}

	r := lipgloss.NewRenderer(out)
	m := Main{
		daemon:   daemon,
		registry: registry,
		files:    files,
		in:       in,
		out:      out,
		styles: styles{
			title:  r.NewStyle().Bold(true),
			online: r.NewStyle().Foreground(lipgloss.Color("10")),
			failed: r.NewStyle().Foreground(lipgloss.Color("9")),
			ok:     r.NewStyle().Foreground(lipgloss.Color("2")),
			muted:  r.NewStyle().Faint(true),
			header: r.NewStyle().Bold(true).Padding(0, 1),
			cell:   r.NewStyle().Padding(0, 1),
		},
		logger: logger.With(slog.String("module", "main")),
	}
	for _, opt := range options {
		opt(&m)
	}
	return m, nil
}

// Run shows the menu until the user picks 0 or the input ends. The daemon is checked before every
// render; while it is offline only retry and exit are offered.
func (m Main) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		online := m.daemon.Ping(ctx)
		m.printMenu(online)

		choice, err := m.prompt("\nSelect an option: ")
		if err != nil {
			return m.endOfInput(err)
		}
		if choice == "0" {
			fmt.Fprintln(m.out, "Goodbye!")
			return nil
		}

		if !online {
			if choice != "1" {
				fmt.Fprintln(m.out, "Invalid choice.")
			}
			continue
		}

		item, ok := lookupMenu(choice)
		if !ok {
			fmt.Fprintln(m.out, "Invalid choice.")
			continue
		}

		m.logger.Debug("Menu action", slog.String("choice", item.key), slog.String("label", item.label))
		if err := item.handle(m, ctx); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			m.report(err)
		}

		if _, err := m.prompt("\nPress Enter to continue..."); err != nil {
			return m.endOfInput(err)
		}
	}
}

func lookupMenu(key string) (menuItem, bool) {
	for _, item := range menu {
		if item.key == key {
			return item, true
		}
	}
	return menuItem{}, false
}

func (m Main) printMenu(online bool) {
	fmt.Fprintln(m.out, strings.Repeat("=", separatorWidth))
	fmt.Fprintln(m.out, m.styles.title.Render("OLLAMA INTERACTIVE CLI"))
	fmt.Fprintln(m.out, strings.Repeat("=", separatorWidth))

	if !online {
		fmt.Fprintln(m.out, m.styles.failed.Render("STATUS: Ollama Service Offline"))
		fmt.Fprintln(m.out, "   (Ensure 'ollama serve' is running)")
		fmt.Fprintln(m.out)
		fmt.Fprintln(m.out, "1. Retry Connection")
		fmt.Fprintln(m.out, "0. Exit")
		return
	}

	fmt.Fprintln(m.out, m.styles.online.Render("STATUS: Ollama Service Online"))
	fmt.Fprintln(m.out)
	for _, item := range menu {
		fmt.Fprintf(m.out, "%s. %s\n", item.key, item.label)
	}
	fmt.Fprintln(m.out, "0. Exit")
}

// report prints a failed action's error in user terms.
func (m Main) report(err error) {
	m.logger.Warn("Menu action failed", slog.String(errLoggerKey, err.Error()))

	var msg string
	switch {
	case errors.Is(err, models.ErrDaemonUnreachable):
		msg = fmt.Sprintf("Ollama is unreachable, ensure 'ollama serve' is running: %s", err)
	case errors.Is(err, models.ErrParseFailure):
		msg = "Could not parse any models. The website structure may have changed."
	case errors.Is(err, models.ErrPullFailed):
		msg = fmt.Sprintf("Pull failed: %s", err)
	default:
		msg = fmt.Sprintf("Error: %s", err)
	}
	fmt.Fprintln(m.out, m.styles.failed.Render(msg))
}

func (m Main) endOfInput(err error) error {
	if errors.Is(err, io.EOF) {
		fmt.Fprintln(m.out)
		return nil
	}
	return fmt.Errorf("failed to read input: %w", err)
}

func (m Main) prompt(label string) (string, error) {
	fmt.Fprint(m.out, label)
	return m.in.ReadLine()
}

// readRequired prompts until the user enters something. Input errors, io.EOF included, are returned.
func (m Main) readRequired(label string) (string, error) {
	for {
		line, err := m.prompt(label)
		if err != nil {
			return "", err
		}
		if line != "" {
			return line, nil
		}
		fmt.Fprintln(m.out, "Input cannot be empty.")
	}
}

// confirm asks a y/N question. Anything but y or Y declines.
func (m Main) confirm(action string) (bool, error) {
	answer, err := m.prompt(fmt.Sprintf("Are you sure you want to %s? (y/N): ", action))
	if err != nil {
		return false, err
	}
	if !strings.EqualFold(answer, "y") {
		fmt.Fprintln(m.out, "Cancelled.")
		return false, nil
	}
	return true, nil
}
