// Package local validates guest uploads and tracks the per-owner project id
// their reviews are stored under.
package local

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/sprite-ai/repolens/internal/kv"
	"github.com/sprite-ai/repolens/internal/reviewapi"
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrTooLarge        = errors.New("file too large")
	ErrTooMany         = errors.New("too many files")
)

// DefaultExtensions are the source file types accepted for guest review.
var DefaultExtensions = []string{
	".js", ".ts", ".jsx", ".tsx",
	".py", ".java", ".kt", ".go",
	".rs", ".cpp", ".c", ".cs",
	".php", ".rb", ".swift",
	".html", ".css", ".scss",
	".json", ".yml", ".yaml",
	".md", ".sh",
}

// Limits bound a guest review.
type Limits struct {
	MaxFileSize       int64
	MaxFiles          int
	AllowedExtensions []string
}

// DefaultLimits returns the stock upload limits.
func DefaultLimits() Limits {
	return Limits{
		MaxFileSize:       200 * 1024,
		MaxFiles:          5,
		AllowedExtensions: DefaultExtensions,
	}
}

// Upload is one file offered for review.
type Upload struct {
	Filename string
	Path     string
	Content  string
	Size     int64
}

// Allowed reports whether name has an accepted extension.
func (l Limits) Allowed(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range l.AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// Validate checks uploads against the limits given existing already-staged
// files. The first offending file stops validation.
func (l Limits) Validate(existing int, uploads []Upload) error {
	for _, u := range uploads {
		if !l.Allowed(u.Filename) {
			return fmt.Errorf("%w: %s", ErrUnsupportedType, u.Filename)
		}
		if u.Size > l.MaxFileSize {
			return fmt.Errorf("%w: %s", ErrTooLarge, u.Filename)
		}
	}
	if existing+len(uploads) > l.MaxFiles {
		return fmt.Errorf("%w: maximum %d files allowed", ErrTooMany, l.MaxFiles)
	}
	return nil
}

// Files converts validated uploads into the review request payload. A
// missing path defaults to the filename.
func Files(uploads []Upload) []reviewapi.LocalFile {
	files := make([]reviewapi.LocalFile, 0, len(uploads))
	for _, u := range uploads {
		path := u.Path
		if path == "" {
			path = u.Filename
		}
		files = append(files, reviewapi.LocalFile{
			Filename: u.Filename,
			Path:     path,
			Content:  u.Content,
		})
	}
	return files
}

// Projects hands out one stable project id per owner for the life of the
// process.
type Projects struct {
	ids *kv.Store[string, string]
}

// NewProjects returns an empty registry.
func NewProjects() *Projects {
	return &Projects{ids: kv.New[string, string]()}
}

// ID returns the owner's project id, minting one on first use.
func (p *Projects) ID(owner string) string {
	return p.ids.GetOrSet(owner, func() string { return uuid.NewString() })
}
