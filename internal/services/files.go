package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/MegaGrindStone/ollama-cli/internal/models"
)

// Well-known daemon data roots on Linux: the service-managed install keeps its data under the ollama
// system user, a manual install keeps it in the user's home.
const (
	DefaultServiceRoot = "/usr/share/ollama/.ollama"
	DefaultUserRoot    = "~/.ollama"
)

const (
	publicKeyFile = "id_ed25519.pub"
	manifestsDir  = "models/manifests/registry.ollama.ai/library"
)

// LocalFiles reads the daemon's files from local disk. Every lookup prefers the service root and falls
// back to the user root when the service root has no such entry.
type LocalFiles struct {
	serviceRoot string
	userRoot    string

	logger *slog.Logger
}

// NewLocalFiles creates a new LocalFiles. A leading "~" in either root is expanded to the user's home
// directory.
func NewLocalFiles(serviceRoot, userRoot string, logger *slog.Logger) LocalFiles {
	if serviceRoot == "" {
		serviceRoot = DefaultServiceRoot
	}
	if userRoot == "" {
		userRoot = DefaultUserRoot
	}
	return LocalFiles{
		serviceRoot: ExpandHome(serviceRoot),
		userRoot:    ExpandHome(userRoot),
		logger:      logger.With(slog.String("module", "files")),
	}
}

// ExpandHome replaces a leading "~" in path with the user's home directory. Other paths are returned
// unchanged, as is path when the home directory is unknown.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// resolve picks the service-root location of rel if it exists, else the user-root one.
func (l LocalFiles) resolve(rel string) string {
	servicePath := filepath.Join(l.serviceRoot, rel)
	if _, err := os.Stat(servicePath); err == nil {
		return servicePath
	}
	return filepath.Join(l.userRoot, rel)
}

// PublicKey returns the path and trimmed content of the daemon's public key. The path is returned even
// on failure so callers can show where they looked. A missing file wraps models.ErrNotFound; a
// permission problem wraps fs.ErrPermission.
func (l LocalFiles) PublicKey() (string, string, error) {
	path := l.resolve(publicKeyFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return path, "", fmt.Errorf("%w: public key %s", models.ErrNotFound, path)
		}
		return path, "", fmt.Errorf("failed to read public key: %w", err)
	}
	return path, strings.TrimSpace(string(data)), nil
}

// ManifestRoot returns the manifest directory that Manifests reads.
func (l LocalFiles) ManifestRoot() string {
	return l.resolve(manifestsDir)
}

// Manifests lists every <model>/<tag> manifest file under the manifest root, sorted by reference. A
// manifest that cannot be decoded is still listed, with an empty ConfigDigest.
func (l LocalFiles) Manifests() ([]models.Manifest, error) {
	root := l.ManifestRoot()

	modelDirs, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: manifest directory %s", models.ErrNotFound, root)
		}
		return nil, fmt.Errorf("failed to read manifest directory: %w", err)
	}

	var manifests []models.Manifest
	for _, modelDir := range modelDirs {
		if !modelDir.IsDir() {
			continue
		}
		modelPath := filepath.Join(root, modelDir.Name())
		tags, err := os.ReadDir(modelPath)
		if err != nil {
			l.logger.Warn("Failed to read model directory",
				slog.String("path", modelPath),
				slog.String(errLoggerKey, err.Error()))
			continue
		}

		for _, tag := range tags {
			if tag.IsDir() {
				continue
			}
			info, err := tag.Info()
			if err != nil {
				continue
			}
			path := filepath.Join(modelPath, tag.Name())
			manifests = append(manifests, models.Manifest{
				Model:        modelDir.Name(),
				Tag:          tag.Name(),
				Path:         path,
				SizeBytes:    info.Size(),
				ConfigDigest: l.configDigest(path),
			})
		}
	}

	slices.SortFunc(manifests, func(a, b models.Manifest) int {
		return strings.Compare(a.Ref(), b.Ref())
	})
	return manifests, nil
}

func (l LocalFiles) configDigest(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var manifest struct {
		Config struct {
			Digest string `json:"digest"`
		} `json:"config"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		l.logger.Debug("Undecodable manifest", slog.String("path", path), slog.String(errLoggerKey, err.Error()))
		return ""
	}
	return manifest.Config.Digest
}

// Paths returns the well-known daemon locations for a Linux install.
func (l LocalFiles) Paths() []models.PathEntry {
	return []models.PathEntry{
		{Label: "Binary", Path: "/usr/bin/ollama"},
		{Label: "Service Config", Path: "/etc/systemd/system/ollama.service"},
		{Label: "Models (Service)", Path: filepath.Join(l.serviceRoot, "models")},
		{Label: "Models (Manual)", Path: filepath.Join(l.userRoot, "models")},
		{Label: "Public Keys", Path: filepath.Join(l.serviceRoot, publicKeyFile)},
		{Label: "Logs", Path: "/var/log/syslog (via journalctl -u ollama)"},
	}
}
