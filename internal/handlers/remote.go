package handlers

import (
	"context"
	"fmt"

	"github.com/MegaGrindStone/ollama-cli/internal/models"
)

const noDescription = "No description provided."

// HandleListRemote prints every model on the library page, newest first.
func (m Main) HandleListRemote(ctx context.Context) error {
	fmt.Fprintf(m.out, "\nQuerying live library at: %s\n", m.registry.URL())
	fmt.Fprintln(m.out, "Please wait, parsing newest models...")
	fmt.Fprintln(m.out)

	remote, err := m.registry.Models(ctx)
	if err != nil {
		return err
	}

	t := m.newTable("MODEL NAME", "FULL DESCRIPTION").BorderRow(true)
	for _, rm := range remote {
		t.Row(rm.Name, describe(rm))
	}
	fmt.Fprintln(m.out, t.String())
	fmt.Fprintf(m.out, "%d model(s) listed.\n", len(remote))
	return nil
}

// HandleSearchRemote prints the library models whose name or description contains a query, ignoring
// letter case.
func (m Main) HandleSearchRemote(ctx context.Context) error {
	query, err := m.readRequired("\nEnter a model name or keyword to search for (e.g., 'mistral' or 'vision'): ")
	if err != nil {
		return err
	}

	fmt.Fprintf(m.out, "Searching library for: '%s'...\n", query)
	remote, err := m.registry.Models(ctx)
	if err != nil {
		return err
	}

	var matches []models.RemoteModel
	for _, rm := range remote {
		if rm.Matches(query) {
			matches = append(matches, rm)
		}
	}
	if len(matches) == 0 {
		fmt.Fprintf(m.out, "No models found matching '%s'.\n", query)
		return nil
	}

	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, m.styles.ok.Render(fmt.Sprintf("Found %d matching model(s):", len(matches))))
	t := m.newTable("MODEL NAME", "DESCRIPTION")
	for _, rm := range matches {
		t.Row(rm.Name, describe(rm))
	}
	fmt.Fprintln(m.out, t.String())
	return nil
}

func describe(rm models.RemoteModel) string {
	if rm.Description == "" {
		return noDescription
	}
	return rm.Description
}
