package models

import (
	"strings"
	"time"
)

// DefaultTag is the tag the daemon assumes when a model name carries none.
const DefaultTag = "latest"

// InstalledModel is a model stored on the daemon's disk. It is a snapshot taken from a single listing
// call; callers re-fetch instead of holding on to it.
type InstalledModel struct {
	Name       string
	SizeBytes  int64
	Digest     string
	ModifiedAt time.Time
}

// RunningModel is a model currently resident in the daemon's memory.
type RunningModel struct {
	Name      string
	SizeBytes int64
	SizeVRAM  int64
	ExpiresAt time.Time
}

// PullProgress is one status update emitted while a pull is in flight. Only Status is guaranteed to be
// set; Completed and Total are filled while layers are downloading.
type PullProgress struct {
	Status    string
	Digest    string
	Completed int64
	Total     int64
}

// Percent returns the completed share of the current layer, or -1 if the daemon did not report sizes.
func (p PullProgress) Percent() float64 {
	if p.Total <= 0 {
		return -1
	}
	return float64(p.Completed) / float64(p.Total) * 100
}

// RemoteModel is an entry scraped from the public model library page.
type RemoteModel struct {
	Name        string
	Description string
}

// Matches reports whether the lowercased query occurs in the model's name or description.
func (r RemoteModel) Matches(query string) bool {
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(r.Name), q) ||
		strings.Contains(strings.ToLower(r.Description), q)
}

// Manifest describes one on-disk manifest file, which maps a model:tag pair to its configuration digest.
type Manifest struct {
	Model     string
	Tag       string
	Path      string
	SizeBytes int64

	// ConfigDigest is empty when the manifest could not be decoded.
	ConfigDigest string
}

// Ref returns the model:tag reference of the manifest.
func (m Manifest) Ref() string {
	return m.Model + ":" + m.Tag
}

// ShortDigest truncates a content digest for table display.
func ShortDigest(digest string) string {
	if len(digest) <= 12 {
		return digest
	}
	return digest[:12]
}

// MatchInstalled looks name up in an installed-model snapshot. A name matches either exactly or, when
// the caller omitted the tag, through its implicit ":latest" form. The comparison is case-sensitive and
// the exact form wins over the implicit one. It returns the name as the daemon knows it.
func MatchInstalled(installed []InstalledModel, name string) (string, bool) {
	if name == "" {
		return "", false
	}
	latest := name + ":" + DefaultTag
	found := ""
	for _, m := range installed {
		switch m.Name {
		case name:
			return m.Name, true
		case latest:
			found = m.Name
		}
	}
	return found, found != ""
}

// PathEntry is a labelled well-known location of the daemon's files.
type PathEntry struct {
	Label string
	Path  string
}
