// Package fileindex implements the file index (spec.md §4.7, C7): a CSV
// index of the file area with streaming grep-style search, rebuilt by a
// single-writer background task gated by atomic dirty/reindexing flags.
//
// Grounded on rustyguts-bken/internal/blob/store.go's os.CreateTemp-then-
// os.Rename atomic-publish pattern, applied here to CSV index rebuilds
// instead of blob uploads.
package fileindex

import (
	"bufio"
	"encoding/csv"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Record is one file-area entry (spec.md §4.7).
type Record struct {
	Path          string
	Name          string
	Size          int64
	ModifiedEpoch int64
	IsDir         bool
}

const maxSearchResults = 100

// Index builds and searches the CSV file index.
type Index struct {
	indexPath string
	fileRoot  string

	mu sync.Mutex // serializes rebuilds; "single-writer"

	dirty      atomic.Bool
	reindexing atomic.Bool

	log *slog.Logger
}

// New returns a file index writing to indexPath and walking fileRoot.
func New(indexPath, fileRoot string, log *slog.Logger) *Index {
	if log == nil {
		log = slog.Default()
	}
	return &Index{indexPath: indexPath, fileRoot: fileRoot, log: log}
}

// MarkDirty flags the index for rebuild on the next periodic tick.
func (idx *Index) MarkDirty() { idx.dirty.Store(true) }

// IsDirty reports the dirty flag.
func (idx *Index) IsDirty() bool { return idx.dirty.Load() }

// RunPeriodic rebuilds the index on a ticker whenever dirty, until done is
// closed. interval<=0 disables rebuilds (spec.md §4.7: "interval from config,
// in minutes; 0 disables").
func (idx *Index) RunPeriodic(done <-chan struct{}, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if idx.dirty.Load() {
				if err := idx.Rebuild(); err != nil {
					idx.log.Error("file index rebuild failed", "error", err)
				}
			}
		}
	}
}

// Rebuild walks the file root and atomically publishes a fresh CSV index.
// The reindexing flag makes concurrent rebuild requests a no-op (spec.md §5,
// §9: "the reindexing flag prevents concurrent rebuilds").
func (idx *Index) Rebuild() error {
	if !idx.reindexing.CompareAndSwap(false, true) {
		return nil
	}
	defer idx.reindexing.Store(false)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(idx.indexPath), ".fileindex-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	w := csv.NewWriter(tmp)

	walkErr := filepath.Walk(idx.fileRoot, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			idx.log.Warn("file index walk error", "path", path, "error", err)
			return nil
		}
		if path == idx.fileRoot {
			return nil
		}
		rel, relErr := filepath.Rel(idx.fileRoot, path)
		if relErr != nil {
			return nil
		}
		return w.Write([]string{
			rel,
			info.Name(),
			strconv.FormatInt(info.Size(), 10),
			strconv.FormatInt(info.ModTime().Unix(), 10),
			strconv.FormatBool(info.IsDir()),
		})
	})

	w.Flush()
	flushErr := w.Error()
	closeErr := tmp.Close()
	if walkErr != nil || flushErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		idx.dirty.Store(true)
		if walkErr != nil {
			return walkErr
		}
		if flushErr != nil {
			return flushErr
		}
		return closeErr
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		idx.dirty.Store(true)
		return err
	}
	if err := os.Rename(tmpPath, idx.indexPath); err != nil {
		os.Remove(tmpPath)
		idx.dirty.Store(true)
		return err
	}
	idx.dirty.Store(false)
	return nil
}

// classify splits a query into tokens: length >= 3 are primary, length 2
// are secondary, length 1 are discarded (spec.md §4.7).
func classify(query string) (primary, secondary []string) {
	for _, tok := range strings.Fields(query) {
		switch {
		case len(tok) >= 3:
			primary = append(primary, tok)
		case len(tok) == 2:
			secondary = append(secondary, tok)
		}
	}
	return primary, secondary
}

// Search tokenizes query and performs a case-insensitive streaming grep over
// the CSV index, ANDing remaining tokens against each candidate path,
// optionally prefix-filtered by areaPrefix. On I/O or parse error the index
// is deleted and marked dirty and an empty result set is returned (spec.md §4.7).
func (idx *Index) Search(query, areaPrefix string) []Record {
	primary, secondary := classify(query)

	var driver string
	var andTokens []string
	literal := false
	switch {
	case len(primary) > 0:
		driver = primary[0]
		andTokens = append(append([]string{}, primary[1:]...), secondary...)
	default:
		driver = strings.TrimSpace(query)
		literal = true
	}
	driverLower := strings.ToLower(driver)

	f, err := os.Open(idx.indexPath)
	if err != nil {
		idx.dirty.Store(true)
		return nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var results []Record
	for scanner.Scan() {
		line := scanner.Text()
		if literal {
			if !strings.Contains(strings.ToLower(line), driverLower) {
				continue
			}
		} else if !strings.Contains(strings.ToLower(line), driverLower) {
			continue
		}

		rec, ok := parseRecordLine(line)
		if !ok {
			os.Remove(idx.indexPath)
			idx.dirty.Store(true)
			return nil
		}
		if areaPrefix != "" && !strings.HasPrefix(rec.Path, areaPrefix) {
			continue
		}
		if !literal && !matchesAll(rec.Path, andTokens) {
			continue
		}
		results = append(results, rec)
		if len(results) >= maxSearchResults {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		os.Remove(idx.indexPath)
		idx.dirty.Store(true)
		return nil
	}
	return results
}

func matchesAll(path string, tokens []string) bool {
	lower := strings.ToLower(path)
	for _, tok := range tokens {
		if !strings.Contains(lower, strings.ToLower(tok)) {
			return false
		}
	}
	return true
}

func parseRecordLine(line string) (Record, bool) {
	r := csv.NewReader(strings.NewReader(line))
	fields, err := r.Read()
	if err != nil || len(fields) != 5 {
		return Record{}, false
	}
	size, err1 := strconv.ParseInt(fields[2], 10, 64)
	modified, err2 := strconv.ParseInt(fields[3], 10, 64)
	isDir, err3 := strconv.ParseBool(fields[4])
	if err1 != nil || err2 != nil || err3 != nil {
		return Record{}, false
	}
	return Record{
		Path: fields[0], Name: fields[1], Size: size, ModifiedEpoch: modified, IsDir: isDir,
	}, true
}
