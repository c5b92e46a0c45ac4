// Package metadata writes the provenance sidecar stored next to each
// downloaded media file.
package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"harvester/pkg/models"
)

// Extension is the fixed sidecar extension.
const Extension = ".json"

// Sidecar records where a media file came from.
type Sidecar struct {
	Author string `json:"author"`
	Date   string `json:"date"`
	Ref    string `json:"ref"`
	Source string `json:"source"`
	Text   string `json:"text"`
}

// FromItem builds the sidecar for an item. Source prefers the page the media was
// found on and falls back to the media URL itself. Ref is left for the storage
// layer, which knows the final filename.
func FromItem(item models.ContentItem) *Sidecar {
	source := item.OriginURL
	if source == "" {
		source = item.MediaURL
	}

	return &Sidecar{
		Author: item.Author,
		Date:   item.Timestamp.UTC().Format(time.RFC3339),
		Source: source,
		Text:   item.Caption,
	}
}

// SidecarName returns the sidecar filename for a stored media filename. The
// extension is replaced, except when the media is itself a .json file, where it
// is appended so the two never collide.
func SidecarName(media string) string {
	ext := filepath.Ext(media)
	if strings.EqualFold(ext, Extension) {
		return media + Extension
	}
	return strings.TrimSuffix(media, ext) + Extension
}

// Save writes the sidecar for mediaPath atomically and returns the path written.
func (s *Sidecar) Save(mediaPath string) (string, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}

	dir, name := filepath.Split(mediaPath)
	path := filepath.Join(dir, SidecarName(name))
	if err := writeAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// Load reads the sidecar of a stored media file.
func Load(mediaPath string) (*Sidecar, error) {
	dir, name := filepath.Split(mediaPath)

	data, err := os.ReadFile(filepath.Join(dir, SidecarName(name)))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata file: %w", err)
	}

	var s Sidecar
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &s, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.part")
	if err != nil {
		return fmt.Errorf("failed to create metadata file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set metadata permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
