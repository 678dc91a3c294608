package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Organizer moves a completed download into a category subfolder,
// grounded directly on the teacher's SmartOrganizer
// (internal/core/organizer.go), gated behind EngineConfig.OrganizeByCategory
// since the declared save_path is otherwise authoritative (SPEC_FULL §3).
type Organizer struct {
	Enabled bool
}

func NewOrganizer(enabled bool) *Organizer {
	return &Organizer{Enabled: enabled}
}

// Category classifies a filename by extension.
func Category(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".svg":
		return "Images"
	case ".mp4", ".mkv", ".mov", ".avi", ".webm", ".wmv":
		return "Videos"
	case ".mp3", ".wav", ".flac", ".aac", ".ogg", ".m4a":
		return "Music"
	case ".zip", ".rar", ".7z", ".tar", ".gz", ".iso":
		return "Archives"
	case ".pdf", ".docx", ".xlsx", ".pptx", ".txt", ".md":
		return "Documents"
	case ".exe", ".msi", ".dmg", ".pkg", ".deb":
		return "Software"
	default:
		return "Others"
	}
}

// Organize moves finalPath into a category subfolder of its parent
// directory, returning the (possibly unchanged) resulting path.
func (o *Organizer) Organize(finalPath string) (string, error) {
	if !o.Enabled {
		return finalPath, nil
	}
	category := Category(finalPath)
	baseDir := filepath.Dir(finalPath)
	targetDir := filepath.Join(baseDir, category)
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return finalPath, fmt.Errorf("filesystem: create category dir: %w", err)
	}

	targetPath := findAvailablePath(filepath.Join(targetDir, filepath.Base(finalPath)))
	if err := os.Rename(finalPath, targetPath); err != nil {
		return finalPath, fmt.Errorf("filesystem: move into category: %w", err)
	}
	return targetPath, nil
}

func findAvailablePath(basePath string) string {
	if _, err := os.Stat(basePath); os.IsNotExist(err) {
		return basePath
	}
	ext := filepath.Ext(basePath)
	dir := filepath.Dir(basePath)
	nameOnly := strings.TrimSuffix(filepath.Base(basePath), ext)

	for i := 1; i < 1000; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", nameOnly, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
	return filepath.Join(dir, fmt.Sprintf("%s_overflow%s", nameOnly, ext))
}
