// Public domain.

// Package candidates reads and cleans candidate work lists.
package candidates

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/psat-ml/rbscore/internal/fileio"
)

// Dedupe returns ids with repeats removed, keeping first occurrences in
// order.
func Dedupe(ids []int64) []int64 {
	seen := roaring64.New()
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if seen.CheckedAdd(uint64(id)) {
			out = append(out, id)
		}
	}
	return out
}

// DedupeStrings is Dedupe for string keys.
func DedupeStrings(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// ReadLines returns the non-blank lines of the named files, in order,
// with surrounding space trimmed.  Lines starting with # are comments.
// Compressed files are read according to their suffix.
func ReadLines(files ...string) ([]string, error) {
	var lines []string
	for _, fn := range files {
		r, err := fileio.Open(fn)
		if err != nil {
			return nil, err
		}
		s := bufio.NewScanner(r)
		for s.Scan() {
			l := strings.TrimSpace(s.Text())
			if l == "" || l[0] == '#' {
				continue
			}
			lines = append(lines, l)
		}
		err = s.Err()
		r.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fn, err)
		}
	}
	return lines, nil
}

// ParseIDs parses object ids, one per string.  Only the first comma or
// space separated field of each string is used, so score files written
// by a previous run can be read back as id lists.
func ParseIDs(lines []string) ([]int64, error) {
	ids := make([]int64, len(lines))
	for i, l := range lines {
		f := l
		if j := strings.IndexAny(f, ", \t"); j >= 0 {
			f = f[:j]
		}
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid object id %q", i+1, f)
		}
		ids[i] = id
	}
	return ids, nil
}

// ReadIDs reads, parses and dedupes the ids in the named files.
func ReadIDs(files ...string) ([]int64, error) {
	lines, err := ReadLines(files...)
	if err != nil {
		return nil, err
	}
	ids, err := ParseIDs(lines)
	if err != nil {
		return nil, err
	}
	return Dedupe(ids), nil
}
