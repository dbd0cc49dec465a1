// Package scanner walks a documents folder and yields metadata for every
// supported source file. Scans are stateless: repeated scans of an unchanged
// folder produce identical results.
package scanner

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SupportedExtensions lists the file types the pipeline can ingest.
var SupportedExtensions = map[string]bool{
	".txt": true,
	".md":  true,
	".pdf": true,
}

// skipNames are tooling and OS metadata entries excluded from every scan.
var skipNames = map[string]bool{
	".git":         true,
	".svn":         true,
	"__pycache__":  true,
	"node_modules": true,
	".DS_Store":    true,
	"vendor":       true,
}

// LoadError reports a folder or file access problem.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load error [%s]: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// SourceMetadata describes one ingestable file found under the scan root.
type SourceMetadata struct {
	Path         string    // Absolute path
	Name         string    // Base file name
	Size         int64     // Byte size
	Extension    string    // Lowercased extension, including the dot
	ModifiedAt   time.Time // Last modification time
	RelativePath string    // Path relative to the scan root
}

// Stats aggregates counts over a scan.
type Stats struct {
	TotalDocuments int
	FilesByType    map[string]int // extension -> count
	TotalBytes     int64
}

// Scanner walks a root folder for supported documents.
type Scanner struct {
	root   string
	logger *slog.Logger
}

// New creates a Scanner for the given root folder. The root is validated
// eagerly: it must exist and be a readable directory.
func New(root string, logger *slog.Logger) (*Scanner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, &LoadError{Path: root, Err: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, &LoadError{Path: abs, Err: err}
	}
	if !info.IsDir() {
		return nil, &LoadError{Path: abs, Err: fmt.Errorf("not a directory")}
	}
	if _, err := os.ReadDir(abs); err != nil {
		return nil, &LoadError{Path: abs, Err: err}
	}
	return &Scanner{root: abs, logger: logger}, nil
}

// Root returns the absolute scan root.
func (s *Scanner) Root() string { return s.root }

// Scan walks the root recursively and returns metadata for every supported,
// non-hidden file. Individual unreadable files are logged and skipped.
func (s *Scanner) Scan(recursive bool) ([]SourceMetadata, error) {
	var sources []SourceMetadata

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.root {
				return &LoadError{Path: path, Err: err}
			}
			s.logger.Warn("skipping unreadable entry", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path == s.root {
				return nil
			}
			if shouldSkip(d.Name()) {
				return fs.SkipDir
			}
			if !recursive {
				return fs.SkipDir
			}
			return nil
		}

		if shouldSkip(d.Name()) || !SupportedExtensions[extOf(d.Name())] {
			return nil
		}

		meta, err := s.describe(path)
		if err != nil {
			s.logger.Warn("skipping unreadable file", "path", path, "error", err)
			return nil
		}
		sources = append(sources, meta)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sources, nil
}

// Stats scans the root and aggregates per-type counts and total bytes.
func (s *Scanner) Stats(recursive bool) (*Stats, error) {
	sources, err := s.Scan(recursive)
	if err != nil {
		return nil, err
	}
	stats := &Stats{FilesByType: make(map[string]int)}
	for _, src := range sources {
		stats.TotalDocuments++
		stats.TotalBytes += src.Size
		stats.FilesByType[src.Extension]++
	}
	return stats, nil
}

// Describe builds SourceMetadata for a single file without requiring it to
// live under the scan root. Used for user-uploaded files staged elsewhere.
func Describe(path string) (SourceMetadata, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return SourceMetadata{}, &LoadError{Path: path, Err: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return SourceMetadata{}, &LoadError{Path: abs, Err: err}
	}
	if info.IsDir() {
		return SourceMetadata{}, &LoadError{Path: abs, Err: fmt.Errorf("is a directory")}
	}
	name := filepath.Base(abs)
	return SourceMetadata{
		Path:         abs,
		Name:         name,
		Size:         info.Size(),
		Extension:    extOf(name),
		ModifiedAt:   info.ModTime(),
		RelativePath: name,
	}, nil
}

// Validate reports whether a single file exists, is readable, and has a
// supported extension.
func Validate(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if !SupportedExtensions[extOf(filepath.Base(path))] {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

func (s *Scanner) describe(path string) (SourceMetadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return SourceMetadata{}, err
	}
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return SourceMetadata{}, err
	}
	// Confirm readability up front so unreadable files fail here, not
	// mid-pipeline.
	f, err := os.Open(path)
	if err != nil {
		return SourceMetadata{}, err
	}
	f.Close()

	name := filepath.Base(path)
	return SourceMetadata{
		Path:         path,
		Name:         name,
		Size:         info.Size(),
		Extension:    extOf(name),
		ModifiedAt:   info.ModTime(),
		RelativePath: filepath.ToSlash(rel),
	}, nil
}

func shouldSkip(name string) bool {
	return strings.HasPrefix(name, ".") || skipNames[name]
}

func extOf(name string) string {
	return strings.ToLower(filepath.Ext(name))
}
