package dispatch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"sovereign/internal/domain"
)

// ExportSnapshot writes the day's aggregate as a JSON artifact for the
// presentation layer. Write-only from the engine's perspective; written
// atomically so the dashboard never reads a torn file.
func ExportSnapshot(dataDir, day string, reports []domain.Report, scans []domain.TopicResult) (string, error) {
	dir := filepath.Join(dataDir, "snapshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	payload := map[string]any{
		"day":     day,
		"reports": reports,
		"scans":   scans,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, day+".json")
	if err := writeFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("export snapshot %s: %w", day, err)
	}
	return path, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
