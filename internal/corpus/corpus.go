// Package corpus provides the knowledge base documents: the embedded seed
// protocols and directories of operator supplied files.
package corpus

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/OFFIS-RIT/triage/internal/util"
	"github.com/OFFIS-RIT/triage/pkg/common"
	"github.com/OFFIS-RIT/triage/pkg/loader"
	loaderio "github.com/OFFIS-RIT/triage/pkg/loader/io"
	"github.com/OFFIS-RIT/triage/pkg/logger"

	"gopkg.in/yaml.v3"
)

// ManifestFile names the optional per-directory manifest.
const ManifestFile = "manifest.yaml"

//go:embed seed
var seedFS embed.FS

// Entry describes one document in a manifest. File is relative to the
// manifest's directory.
type Entry struct {
	ID       string `yaml:"id"`
	File     string `yaml:"file"`
	Title    string `yaml:"title"`
	Category string `yaml:"category"`
}

type Manifest struct {
	Documents []Entry `yaml:"documents"`
}

// ParseManifest decodes a manifest and checks every entry has an id and a
// file, with no id used twice.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, common.ConfigError("invalid corpus manifest: %v", err)
	}
	seen := make(map[string]bool, len(m.Documents))
	for i, e := range m.Documents {
		if strings.TrimSpace(e.ID) == "" || strings.TrimSpace(e.File) == "" {
			return Manifest{}, common.ConfigError("corpus manifest entry %d needs id and file", i)
		}
		if seen[e.ID] {
			return Manifest{}, common.ConfigError("corpus manifest lists %q twice", e.ID)
		}
		seen[e.ID] = true
	}
	return m, nil
}

func (m Manifest) byFile() map[string]Entry {
	out := make(map[string]Entry, len(m.Documents))
	for _, e := range m.Documents {
		out[filepath.ToSlash(filepath.Clean(e.File))] = e
	}
	return out
}

// Seed returns the embedded emergency protocols.
func Seed() ([]common.Document, error) {
	data, err := seedFS.ReadFile(path.Join("seed", ManifestFile))
	if err != nil {
		return nil, err
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	docs := make([]common.Document, 0, len(m.Documents))
	for _, e := range m.Documents {
		text, err := seedFS.ReadFile(path.Join("seed", e.File))
		if err != nil {
			return nil, fmt.Errorf("seed document %s: %w", e.ID, err)
		}
		docs = append(docs, common.Document{
			SourceID:   e.ID,
			Title:      e.Title,
			Category:   e.Category,
			Text:       util.NormalizeText(string(text)),
			IngestedAt: now,
		})
	}
	return docs, nil
}

// Dir scans a directory tree of knowledge base files. Files are read through
// Loader, which must understand every loader.FileType.
type Dir struct {
	Root     string
	Loader   loader.FileLoader
	manifest map[string]Entry
}

// OpenDir prepares root for scanning, reading its manifest if present.
func OpenDir(root string, l loader.FileLoader) (*Dir, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, common.ConfigError("corpus directory %s: %v", root, err)
	}
	if !info.IsDir() {
		return nil, common.ConfigError("corpus path %s is not a directory", root)
	}

	d := &Dir{Root: root, Loader: l, manifest: map[string]Entry{}}
	data, err := os.ReadFile(filepath.Join(root, ManifestFile))
	switch {
	case err == nil:
		m, err := ParseManifest(data)
		if err != nil {
			return nil, err
		}
		d.manifest = m.byFile()
	case !errors.Is(err, fs.ErrNotExist):
		return nil, err
	}
	return d, nil
}

// Source describes the file at path, which must lie below Root. The source
// id comes from the manifest or else from the relative path; the category
// from the manifest or else the first directory below Root.
func (d *Dir) Source(path string) (loader.SourceFile, error) {
	rel, err := filepath.Rel(d.Root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return loader.SourceFile{}, fmt.Errorf("%s is outside %s", path, d.Root)
	}
	rel = filepath.ToSlash(rel)

	f := loader.NewSourceFile(path, d.Loader)
	f.ID = SourceID(rel)
	f.Title = strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
	if dir, _, ok := strings.Cut(rel, "/"); ok {
		f.Category = dir
	}
	if e, ok := d.manifest[rel]; ok {
		f.ID = e.ID
		if e.Title != "" {
			f.Title = e.Title
		}
		if e.Category != "" {
			f.Category = e.Category
		}
	}
	if info, err := os.Stat(path); err == nil {
		f.Version = loaderio.Version(info)
	}
	return f, nil
}

// SourceID derives a stable id from a slash separated relative path.
func SourceID(rel string) string {
	rel = strings.TrimSuffix(rel, path.Ext(rel))
	return strings.ReplaceAll(strings.Trim(rel, "/"), "/", "-")
}

// Sources lists every supported, non hidden file below Root.
func (d *Dir) Sources() ([]loader.SourceFile, error) {
	var files []loader.SourceFile
	err := filepath.WalkDir(d.Root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != d.Root && isHidden(entry.Name()) {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() || !loader.Supported(p) {
			return nil
		}
		f, err := d.Source(p)
		if err != nil {
			return err
		}
		files = append(files, f)
		return nil
	})
	return files, err
}

// LoadDir reads every document below root. Files that fail to load are
// logged and skipped; the joined errors are returned with the documents that
// did load.
func LoadDir(ctx context.Context, root string, l loader.FileLoader) ([]common.Document, error) {
	d, err := OpenDir(root, l)
	if err != nil {
		return nil, err
	}
	sources, err := d.Sources()
	if err != nil {
		return nil, err
	}

	docs := make([]common.Document, 0, len(sources))
	var errs []error
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return docs, err
		}
		doc, err := src.Document(ctx)
		if err != nil {
			logger.Warn("[Corpus] Skipping file", "path", src.Path, "err", err)
			errs = append(errs, err)
			continue
		}
		docs = append(docs, doc)
	}
	logger.Info("[Corpus] Loaded directory", "dir", root, "documents", len(docs), "failed", len(errs))
	return docs, errors.Join(errs...)
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}
