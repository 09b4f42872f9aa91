package handlers

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/MegaGrindStone/ollama-cli/internal/models"
)

// HandlePublicKey prints the daemon's public key and where it was read from.
func (m Main) HandlePublicKey(_ context.Context) error {
	path, key, err := m.files.PublicKey()

	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, m.styles.title.Render("Ollama Public Key"))
	fmt.Fprintf(m.out, "Full Path: %s\n", path)
	fmt.Fprintln(m.out, strings.Repeat("-", 60))

	switch {
	case err == nil:
		fmt.Fprintln(m.out, key)
	case errors.Is(err, models.ErrNotFound):
		fmt.Fprintln(m.out, m.styles.failed.Render("Public key not found. Ensure Ollama has been initialized."))
	case errors.Is(err, fs.ErrPermission):
		fmt.Fprintln(m.out, m.styles.failed.Render(
			fmt.Sprintf("Permission denied. To read %s, try running with sudo.", path)))
	default:
		return err
	}
	return nil
}

// HandleManifests prints every manifest file with its size and the model ID it points to.
func (m Main) HandleManifests(_ context.Context) error {
	fmt.Fprintln(m.out, "\nModel Manifests & Internal Paths:")

	manifests, err := m.files.Manifests()
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			fmt.Fprintln(m.out, m.styles.failed.Render("Manifest directory not found."))
			return nil
		}
		return err
	}

	fmt.Fprintf(m.out, "Root: %s\n", m.files.ManifestRoot())
	t := m.newTable("MODEL:TAG", "SIZE", "SHA256 MODEL ID", "FULL MANIFEST PATH")
	for _, mf := range manifests {
		id := mf.ConfigDigest
		if id == "" {
			id = "-"
		}
		t.Row(mf.Ref(), fmt.Sprintf("%.2f KB", float64(mf.SizeBytes)/1024), id, mf.Path)
	}
	fmt.Fprintln(m.out, t.String())
	return nil
}

// HandlePaths prints where a Linux install keeps the daemon's files.
func (m Main) HandlePaths(_ context.Context) error {
	fmt.Fprintln(m.out, "\nOllama Linux Paths:")
	t := m.newTable("TYPE", "PATH")
	for _, p := range m.files.Paths() {
		t.Row(p.Label, p.Path)
	}
	fmt.Fprintln(m.out, t.String())
	return nil
}
