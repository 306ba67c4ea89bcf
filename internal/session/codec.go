package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/planbiir/rttsense/internal/analyze"
)

// New creates a bundle with a fresh session id
func New(cfg RunConfig, startedAt time.Time) *Bundle {
	return &Bundle{
		Version:   FormatVersion,
		ID:        uuid.NewString(),
		Config:    cfg,
		StartedAt: startedAt,
	}
}

// FileName is the export name for a bundle stopped at t
func FileName(t time.Time, format Format) string {
	stamp := strings.ReplaceAll(t.UTC().Format(time.RFC3339), ":", "-")
	ext := "json"
	if format == FormatYAML {
		ext = "yaml"
	}
	return fmt.Sprintf("rtt_measurements_%s.%s", stamp, ext)
}

// FormatFromPath guesses the format from a file extension, JSON by default
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Parse reads a bundle file in either format
func Parse(filename string) (*Bundle, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return ParseReader(file)
}

// ParseReader parses a bundle from an io.Reader. JSON is detected by a leading
// '{', anything else is decoded as YAML.
func ParseReader(r io.Reader) (*Bundle, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}

	var b Bundle
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return nil, fmt.Errorf("failed to parse bundle JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("failed to parse bundle YAML: %w", err)
		}
	}

	// Fill defaults for bundles written by older tools
	if b.Version == "" {
		b.Version = FormatVersion
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.StartedAt.IsZero() && len(b.Measurements) > 0 {
		b.StartedAt = b.Measurements[0].Timestamp
	}
	if b.StoppedAt.IsZero() && len(b.Measurements) > 0 {
		b.StoppedAt = b.Measurements[len(b.Measurements)-1].Timestamp
	}

	return &b, nil
}

// Write saves the bundle to a file, choosing the format from the extension
func (b *Bundle) Write(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	return b.WriteToWriter(file, FormatFromPath(filename))
}

// WriteToWriter encodes the bundle to an io.Writer
func (b *Bundle) WriteToWriter(w io.Writer, format Format) error {
	if format == FormatYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(b); err != nil {
			return fmt.Errorf("failed to encode bundle YAML: %w", err)
		}
		return enc.Close()
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return fmt.Errorf("failed to encode bundle JSON: %w", err)
	}
	return nil
}

// Export writes the bundle into dir under FileName and returns the full path
func (b *Bundle) Export(dir string, format Format) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export dir: %w", err)
	}
	stopped := b.StoppedAt
	if stopped.IsZero() {
		stopped = time.Now()
	}
	path := filepath.Join(dir, FileName(stopped, format))

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if err := b.WriteToWriter(file, format); err != nil {
		return "", err
	}
	return path, nil
}

// Raw returns the non-averaged measurements ordered by timestamp
func (b *Bundle) Raw() []analyze.Measurement {
	var raw []analyze.Measurement
	for _, m := range b.Measurements {
		if !m.IsAveraged {
			raw = append(raw, m)
		}
	}
	sort.SliceStable(raw, func(i, j int) bool {
		return raw[i].Timestamp.Before(raw[j].Timestamp)
	})
	return raw
}

// Stats returns basic statistics about the bundle
func (b *Bundle) Stats() (raw int, averaged int, timeouts int, duration time.Duration) {
	for _, m := range b.Measurements {
		switch {
		case m.IsAveraged:
			averaged++
		case !m.Valid():
			raw++
			timeouts++
		default:
			raw++
		}
	}
	if !b.StartedAt.IsZero() && b.StoppedAt.After(b.StartedAt) {
		duration = b.StoppedAt.Sub(b.StartedAt)
	}
	return
}
