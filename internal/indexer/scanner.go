package indexer

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/codementor/ragindex/internal/config"
	"github.com/codementor/ragindex/internal/extract"
)

// Scanner finds indexable files below directories
type Scanner struct {
	extensions map[string]bool // empty accepts every file
	ignoreDirs map[string]bool
}

// NewScanner creates a new file scanner
func NewScanner(cfg config.IndexerConfig) *Scanner {
	s := &Scanner{
		extensions: make(map[string]bool, len(cfg.Extensions)),
		ignoreDirs: make(map[string]bool, len(cfg.IgnoreDirs)),
	}
	for _, ext := range cfg.Extensions {
		s.extensions[strings.ToLower(ext)] = true
	}
	for _, dir := range cfg.IgnoreDirs {
		s.ignoreDirs[dir] = true
	}
	return s
}

func (s *Scanner) accepts(ext string) bool {
	return len(s.extensions) == 0 || s.extensions[ext]
}

// Scan walks root and returns the regular files with an accepted extension,
// skipping ignored directories below root.
func (s *Scanner) Scan(root string) ([]FileInfo, error) {
	var files []FileInfo
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case d.IsDir():
			if path != root && s.ignoreDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		case !d.Type().IsRegular():
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if !s.accepts(ext) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, FileInfo{
			Path: path,
			Kind: extract.Classify(path),
			Size: info.Size(),
		})
		return nil
	})
	return files, err
}

// ExpandPaths replaces directories in paths by the files Scan finds in them.
// Plain files are kept as given, whatever their extension, and so are paths
// that cannot be stat'ed: the indexer skips them per file, and a refresh
// still clears what was indexed for a deleted file. The result keeps input
// order and holds no duplicates.
func (s *Scanner) ExpandPaths(paths []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, p := range paths {
		found := []string{p}
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			files, err := s.Scan(p)
			if err != nil {
				return nil, fmt.Errorf("failed to scan directory: %w", err)
			}
			found = found[:0]
			for _, f := range files {
				found = append(found, f.Path)
			}
		}

		for _, f := range found {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out, nil
}

// languageExts lists the extensions of each language tag
var languageExts = map[string][]string{
	"go":         {".go"},
	"python":     {".py"},
	"javascript": {".js", ".jsx", ".mjs", ".cjs"},
	"typescript": {".ts", ".tsx"},
	"java":       {".java"},
	"kotlin":     {".kt"},
	"scala":      {".scala"},
	"rust":       {".rs"},
	"c":          {".c"},
	"cpp":        {".cpp", ".cc", ".cxx"},
	"c_header":   {".h", ".hpp"},
	"csharp":     {".cs"},
	"ruby":       {".rb"},
	"php":        {".php"},
	"swift":      {".swift"},
	"shell":      {".sh", ".bash"},
	"sql":        {".sql"},
	"yaml":       {".yaml", ".yml"},
	"json":       {".json"},
	"markdown":   {".md", ".markdown"},
	"text":       {".txt", ".rst"},
}

var languages = func() map[string]string {
	m := make(map[string]string)
	for lang, exts := range languageExts {
		for _, ext := range exts {
			m[ext] = lang
		}
	}
	return m
}()

// GetLanguage returns the language or document format of a file extension,
// used to tag fenced code in prompts and to group index statistics.
func GetLanguage(ext string) string {
	ext = strings.ToLower(ext)
	if lang, ok := languages[ext]; ok {
		return lang
	}
	if extract.IsDocument(ext) {
		return strings.TrimPrefix(ext, ".")
	}
	return "unknown"
}
