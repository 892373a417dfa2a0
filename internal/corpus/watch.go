package corpus

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/OFFIS-RIT/triage/pkg/common"
	"github.com/OFFIS-RIT/triage/pkg/loader"
	"github.com/OFFIS-RIT/triage/pkg/logger"

	"github.com/fsnotify/fsnotify"
)

// Ingester is what Watch feeds changes into.
type Ingester interface {
	IngestDocument(ctx context.Context, doc common.Document) (int, error)
	RemoveDocument(ctx context.Context, sourceID string) (int, error)
}

type ChangeKind int

const (
	ChangeUpsert ChangeKind = iota + 1
	ChangeRemove
)

type change struct {
	source loader.SourceFile
	kind   ChangeKind
	at     time.Time
}

// DefaultDebounce is how long a file must stay quiet before it is
// re-ingested. Editors often write a file in several steps.
const DefaultDebounce = 500 * time.Millisecond

// handleEvent maps a filesystem event to a pending change. Directories,
// hidden files, unsupported extensions and chmod events yield none.
func (d *Dir) handleEvent(ev fsnotify.Event) (change, bool) {
	if isHidden(filepath.Base(ev.Name)) || !loader.Supported(ev.Name) {
		return change{}, false
	}

	var kind ChangeKind
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		kind = ChangeRemove
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		info, err := os.Stat(ev.Name)
		if err != nil || info.IsDir() {
			return change{}, false
		}
		kind = ChangeUpsert
	default:
		return change{}, false
	}

	src, err := d.Source(ev.Name)
	if err != nil {
		return change{}, false
	}
	return change{source: src, kind: kind, at: time.Now()}, true
}

// Watch keeps the index in sync with the directory until ctx ends. Created
// and modified files are re-ingested once they have been quiet for debounce,
// removed files are dropped from the index.
func (d *Dir) Watch(ctx context.Context, ing Ingester, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := d.addTree(w, d.Root); err != nil {
		return err
	}
	logger.Info("[Corpus] Watching directory", "dir", d.Root)

	pending := map[string]change{}
	tick := time.NewTicker(debounce / 2)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("[Corpus] Watcher error", "err", err)
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !isHidden(info.Name()) {
					if err := d.addTree(w, ev.Name); err != nil {
						logger.Warn("[Corpus] Could not watch directory", "dir", ev.Name, "err", err)
					}
					continue
				}
			}
			if c, ok := d.handleEvent(ev); ok {
				pending[ev.Name] = c
			}
		case now := <-tick.C:
			for path, c := range pending {
				if now.Sub(c.at) < debounce {
					continue
				}
				delete(pending, path)
				d.apply(ctx, ing, c)
			}
		}
	}
}

func (d *Dir) apply(ctx context.Context, ing Ingester, c change) {
	switch c.kind {
	case ChangeRemove:
		n, err := ing.RemoveDocument(ctx, c.source.ID)
		if err != nil {
			logger.Error("[Corpus] Remove failed", "source_id", c.source.ID, "err", err)
			return
		}
		logger.Info("[Corpus] Removed document", "source_id", c.source.ID, "chunks", n)
	case ChangeUpsert:
		doc, err := c.source.Document(ctx)
		if err != nil {
			logger.Error("[Corpus] Load failed", "path", c.source.Path, "err", err)
			return
		}
		n, err := ing.IngestDocument(ctx, doc)
		if err != nil {
			logger.Error("[Corpus] Ingest failed", "source_id", doc.SourceID, "err", err)
			return
		}
		logger.Info("[Corpus] Ingested document", "source_id", doc.SourceID, "chunks", n)
	}
}

func (d *Dir) addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if p != d.Root && isHidden(entry.Name()) {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}
