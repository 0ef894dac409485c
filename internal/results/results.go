// Public domain.

// Package results writes final scores to files and to the survey
// database.
package results

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/psat-ml/rbscore/internal/fileio"
	"github.com/psat-ml/rbscore/internal/score"
)

// Sort orders rs by ascending score, most bogus first.  Equal scores keep
// their order.
func Sort(rs []score.Result) {
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Score < rs[j].Score })
}

// Write writes one id,score line per result.
func Write(w io.Writer, rs []score.Result) error {
	bw := bufio.NewWriter(w)
	for _, r := range rs {
		if _, err := fmt.Fprintf(bw, "%s,%f\n", r.Object, r.Score); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFile sorts rs and writes them to fn, compressing by suffix.  The
// file is created even when rs is empty.
func WriteFile(fn string, rs []score.Result) error {
	Sort(rs)
	w, err := fileio.Create(fn)
	if err != nil {
		return err
	}
	if err := Write(w, rs); err != nil {
		w.Close()
		return fmt.Errorf("%s: %w", fn, err)
	}
	return w.Close()
}

// WorkerFileName returns the partial output file of one worker: fn with
// the process id and worker number inserted before the extension.
func WorkerFileName(fn string, pid, worker int) string {
	ext := filepath.Ext(fn)
	base := strings.TrimSuffix(fn, ext)
	return fmt.Sprintf("%s_%d_%03d%s", base, pid, worker, ext)
}

// Updater stores scores.
type Updater interface {
	UpdateScores(ctx context.Context, rs []score.Result) (int64, error)
}

// Update sends rs to u.  Only the parent process calls it, so workers
// never contend for the same rows.
func Update(ctx context.Context, u Updater, rs []score.Result) (int64, error) {
	if len(rs) == 0 {
		return 0, nil
	}
	return u.UpdateScores(ctx, rs)
}
