package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MegaGrindStone/ollama-cli/internal/models"
	"github.com/dustin/go-humanize"
)

const progressWidth = 50

// EnsurePresent makes sure the named model is installed, pulling it if it is not. The name matches an
// installed model exactly or through its implicit ":latest" tag. Pull progress is printed as it arrives.
// The returned error wraps models.ErrPullFailed or models.ErrDaemonUnreachable.
func (m Main) EnsurePresent(ctx context.Context, name string) error {
	fmt.Fprintf(m.out, "Checking if '%s' is ready...\n", name)

	installed, err := m.daemon.ListInstalled(ctx)
	if err != nil {
		return err
	}
	if _, ok := models.MatchInstalled(installed, name); ok {
		fmt.Fprintln(m.out, m.styles.ok.Render(fmt.Sprintf("%s is ready to go.", name)))
		return nil
	}

	fmt.Fprintf(m.out, "Model '%s' not found. Downloading now...\n", name)
	if err := m.pull(ctx, name); err != nil {
		return err
	}
	fmt.Fprintln(m.out, m.styles.ok.Render(fmt.Sprintf("%s downloaded successfully!", name)))
	return nil
}

// pull runs a pull to completion, rendering every status update. On a terminal, updates overwrite one
// line; otherwise a line is printed whenever the status text changes.
func (m Main) pull(ctx context.Context, name string) error {
	logger := m.logger.With(slog.String("model", name))
	logger.Info("Pulling model")

	last := ""
	for p, err := range m.daemon.Pull(ctx, name) {
		if err != nil {
			if m.inlineProgress && last != "" {
				fmt.Fprintln(m.out)
			}
			logger.Error("Pull failed", slog.String(errLoggerKey, err.Error()))
			return err
		}

		line := progressLine(p)
		if m.inlineProgress {
			fmt.Fprintf(m.out, "\rStatus: %-*s", progressWidth, line)
		} else if p.Status != last {
			fmt.Fprintf(m.out, "Status: %s\n", line)
		}
		last = p.Status
	}
	if m.inlineProgress && last != "" {
		fmt.Fprintln(m.out)
	}

	logger.Info("Model pulled")
	return nil
}

func progressLine(p models.PullProgress) string {
	pct := p.Percent()
	if pct < 0 {
		return p.Status
	}
	return fmt.Sprintf("%s %3.0f%% (%s/%s)", p.Status, pct,
		humanize.Bytes(uint64(p.Completed)), humanize.Bytes(uint64(p.Total)))
}

// HandleChat lets the user pick an installed model and chats with it. With nothing installed it only
// says so.
func (m Main) HandleChat(ctx context.Context) error {
	installed, err := m.printInstalled(ctx)
	if err != nil {
		return err
	}
	if len(installed) == 0 {
		fmt.Fprintln(m.out, "\nNo models available to chat with. Please pull a model first.")
		return nil
	}

	choice, err := m.readRequired("\nEnter the NAME of the model to chat with (e.g., llama3): ")
	if err != nil {
		return err
	}

	name, ok := models.MatchInstalled(installed, choice)
	if !ok {
		fmt.Fprintln(m.out, m.styles.failed.Render(fmt.Sprintf("Error: '%s' is not in the installed list.", choice)))
		return nil
	}
	fmt.Fprintln(m.out, m.styles.ok.Render(fmt.Sprintf("Selected: %s", name)))

	if err := m.EnsurePresent(ctx, name); err != nil {
		return err
	}

	session, err := NewChatSession(name, m.daemon, m.in, m.out, m.logger, WithExitKeywords(m.exitKeywords))
	if err != nil {
		return err
	}
	// The session has already shown the failure next to the partial reply.
	if err := session.Run(ctx); err != nil {
		m.logger.Warn("Chat session ended with error",
			slog.String("session", session.ID()),
			slog.String(errLoggerKey, err.Error()))
	}
	return nil
}

// HandleListInstalled prints the installed models.
func (m Main) HandleListInstalled(ctx context.Context) error {
	_, err := m.printInstalled(ctx)
	return err
}

func (m Main) printInstalled(ctx context.Context) ([]models.InstalledModel, error) {
	fmt.Fprintln(m.out, "\nInstalled Local Models:")

	installed, err := m.daemon.ListInstalled(ctx)
	if err != nil {
		return nil, err
	}
	if len(installed) == 0 {
		fmt.Fprintln(m.out, "No models installed.")
		return installed, nil
	}

	t := m.newTable("NAME", "SIZE", "ID")
	for _, im := range installed {
		t.Row(im.Name, humanize.Bytes(uint64(im.SizeBytes)), models.ShortDigest(im.Digest))
	}
	fmt.Fprintln(m.out, t.String())
	return installed, nil
}

// HandlePs prints the models currently loaded in memory.
func (m Main) HandlePs(ctx context.Context) error {
	fmt.Fprintln(m.out, "\nCurrently Loaded in RAM:")

	running, err := m.daemon.ListRunning(ctx)
	if err != nil {
		return err
	}
	if len(running) == 0 {
		fmt.Fprintln(m.out, "Memory is clear. No models currently running.")
		return nil
	}

	for _, rm := range running {
		line := fmt.Sprintf("- %s (Size: %s, VRAM: %s", rm.Name,
			humanize.Bytes(uint64(rm.SizeBytes)), humanize.Bytes(uint64(rm.SizeVRAM)))
		if !rm.ExpiresAt.IsZero() {
			line += ", unloads " + humanize.Time(rm.ExpiresAt)
		}
		fmt.Fprintln(m.out, line+")")
	}
	return nil
}

// HandlePull pulls a model the user names, after confirmation.
func (m Main) HandlePull(ctx context.Context) error {
	name, err := m.readRequired("Enter the model name to pull (e.g., llama3): ")
	if err != nil {
		return err
	}
	ok, err := m.confirm(fmt.Sprintf("pull '%s'", name))
	if err != nil || !ok {
		return err
	}

	fmt.Fprintf(m.out, "Pulling %s...\n", name)
	if err := m.pull(ctx, name); err != nil {
		return err
	}
	fmt.Fprintln(m.out, m.styles.ok.Render(fmt.Sprintf("%s ready.", name)))
	return nil
}

// HandleRemove deletes a model the user names, after confirmation.
func (m Main) HandleRemove(ctx context.Context) error {
	name, err := m.readRequired("Enter the model name to delete: ")
	if err != nil {
		return err
	}
	ok, err := m.confirm(fmt.Sprintf("delete '%s'", name))
	if err != nil || !ok {
		return err
	}

	if err := m.daemon.Delete(ctx, name); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			fmt.Fprintln(m.out, m.styles.failed.Render(fmt.Sprintf("Model '%s' is not installed.", name)))
			return nil
		}
		return err
	}
	fmt.Fprintln(m.out, m.styles.ok.Render(fmt.Sprintf("Successfully deleted '%s'.", name)))
	return nil
}

// HandleStop unloads a model the user names from memory, after confirmation.
func (m Main) HandleStop(ctx context.Context) error {
	name, err := m.readRequired("Enter model name to stop (unload): ")
	if err != nil {
		return err
	}
	ok, err := m.confirm(fmt.Sprintf("unload '%s'", name))
	if err != nil || !ok {
		return err
	}

	if err := m.daemon.Unload(ctx, name); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			fmt.Fprintln(m.out, m.styles.failed.Render(fmt.Sprintf("Model '%s' is not installed.", name)))
			return nil
		}
		return err
	}
	fmt.Fprintln(m.out, m.styles.ok.Render(fmt.Sprintf("Unload signal sent for '%s'.", name)))
	return nil
}
