// Package journal persists committed transactions as a sequence of
// immutable era files, replayed on open and consulted by point lookups
// before the flushed data file.
package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/segurodb/segurodb/errs"
	"github.com/segurodb/segurodb/transaction"
)

const eraExtension = ".era"

var eraFileNamePattern = regexp.MustCompile(`^(\d+)\.era$`)

type eraFile struct {
	index int
	path  string
}

type eraFilesByIndex []eraFile

func (e eraFilesByIndex) Len() int           { return len(e) }
func (e eraFilesByIndex) Less(i, j int) bool { return e[i].index < e[j].index }
func (e eraFilesByIndex) Swap(i, j int)      { e[i], e[j] = e[j], e[i] }

// listEraFiles scans dir for "{n}.era" files, returning them sorted by
// index and verifying the sequence is dense and starts at 0.
func listEraFiles(dir string) ([]eraFile, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
			return nil, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, &errs.InvalidJournalLocationError{Path: dir}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []eraFile
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		matches := eraFileNamePattern.FindStringSubmatch(entry.Name())
		if len(matches) != 2 {
			continue
		}
		idx, err := strconv.Atoi(matches[1])
		if err != nil {
			continue
		}
		files = append(files, eraFile{index: idx, path: filepath.Join(dir, entry.Name())})
	}

	sort.Sort(eraFilesByIndex(files))

	for i, f := range files {
		if f.index != i {
			return nil, &errs.JournalEraMissingError{Index: i}
		}
	}

	return files, nil
}

func eraFileName(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("%d%s", index, eraExtension))
}

// Journal is an ordered queue of committed-transaction eras, oldest
// first, replayed into the field region by flush and consulted newest-
// first by Get.
type Journal struct {
	dir          string
	eras         []*Era
	nextEraIndex int
}

// Open replays the era files already present in dir (creating it if
// absent) and returns the resulting Journal.
func Open(dir string) (*Journal, error) {
	files, err := listEraFiles(dir)
	if err != nil {
		return nil, err
	}

	eras := make([]*Era, 0, len(files))
	for _, f := range files {
		era, err := OpenEra(f.path)
		if err != nil {
			return nil, err
		}
		eras = append(eras, era)
	}

	nextIndex := 0
	if len(files) > 0 {
		nextIndex = files[len(files)-1].index + 1
	}

	return &Journal{dir: dir, eras: eras, nextEraIndex: nextIndex}, nil
}

// Push durably appends tx as a new era.
func (j *Journal) Push(tx *transaction.Transaction) error {
	path := eraFileName(j.dir, j.nextEraIndex)
	j.nextEraIndex++

	era, err := CreateEra(path, tx)
	if err != nil {
		return err
	}
	j.eras = append(j.eras, era)
	return nil
}

// DrainFront removes and returns the oldest n eras, for example once
// their contents have been folded into a flush.
func (j *Journal) DrainFront(n int) []*Era {
	drained := j.eras[:n]
	j.eras = j.eras[n:]
	return drained
}

// Len returns the number of eras currently held.
func (j *Journal) Len() int { return len(j.eras) }

// Get looks up key across eras newest-to-oldest, returning the most
// recent recorded value. found is false if no era mentions key at all.
// tombstone is true if the most recent mention is a delete, which is a
// definitive absence signal: callers must not fall through to the
// flushed data file or a collision log in that case, since either may
// still hold a pre-delete record for key.
func (j *Journal) Get(key []byte) (value []byte, found, tombstone bool) {
	for i := len(j.eras) - 1; i >= 0; i-- {
		v, eraFound, eraTombstone := j.eras[i].Get(key)
		if eraFound {
			if eraTombstone {
				return nil, true, true
			}
			return v, true, false
		}
	}
	return nil, false, false
}

// Iter merges every era's operations across the whole journal, keyed by
// key, with later eras overriding earlier ones for the same key, and
// returns the result ordered by key.
func (j *Journal) Iter() ([]transaction.Operation, error) {
	merged := make(map[string]transaction.Operation)
	var order []string

	for _, era := range j.eras {
		ops, err := era.Operations()
		if err != nil {
			return nil, err
		}
		for _, op := range ops {
			k := string(op.Key)
			if _, seen := merged[k]; !seen {
				order = append(order, k)
			}
			merged[k] = op
		}
	}

	sort.Strings(order)
	out := make([]transaction.Operation, 0, len(order))
	for _, k := range order {
		out = append(out, merged[k])
	}
	return out, nil
}

// Close unmaps every era's backing file without removing any of them.
func (j *Journal) Close() error {
	for _, era := range j.eras {
		if err := era.Close(); err != nil {
			return err
		}
	}
	return nil
}
