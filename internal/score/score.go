// Public domain.

// Package score turns per-image classifier output into one real/bogus
// score per candidate object.
//
// Scoring happens per instrument: every image routed to an instrument is
// classified in one batch and the positive class probabilities are
// grouped by object.  Merging then picks, for each object, the instrument
// that imaged it most and takes the median of that instrument's scores.
package score

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"

	"github.com/psat-ml/rbscore/internal/stamp"
)

// ErrEmptyBatch is returned when Score is given no images.
var ErrEmptyBatch = errors.New("score: empty batch")

// Classifier returns the (bogus, real) probability pair for each stamp.
type Classifier interface {
	Predict(batch []stamp.Stamp) ([][2]float64, error)
}

// Sequences maps an object key to its per-image real probabilities in
// input order.  Order lists the keys in order of first appearance.
type Sequences struct {
	Order  []string
	Scores map[string][]float64
}

// Len is the number of objects.
func (s Sequences) Len() int { return len(s.Order) }

func (s *Sequences) add(key string, p float64) {
	if s.Scores == nil {
		s.Scores = map[string][]float64{}
	}
	if _, ok := s.Scores[key]; !ok {
		s.Order = append(s.Order, key)
	}
	s.Scores[key] = append(s.Scores[key], p)
}

// Scorer classifies one instrument partition.
//
// Separator ends the object key within an image base name.  With
// KeepFilename the whole base name is the key.  Failed extractions count
// in Failed and contribute an all-zero stamp.
type Scorer struct {
	Extractor    stamp.Extractor
	Extension    int
	Magic        *int
	KeepFilename bool
	Separator    string
	Dim          int

	OnFailure func(path string, err error)
}

// Key returns the object key for an image path.
func (sc Scorer) Key(path string) string {
	base := filepath.Base(path)
	if sc.KeepFilename {
		return base
	}
	sep := sc.Separator
	if sep == "" {
		sep = "_"
	}
	if i := strings.Index(base, sep); i >= 0 {
		return base[:i]
	}
	return base
}

// Stats reports extraction problems met while scoring a partition.
type Stats struct {
	Failed int // images that could not be read
	Zeroed int // pixels replaced by zero
}

// Score extracts a stamp from every path, classifies the batch with one
// call to c and groups real probabilities by object key.
func (sc Scorer) Score(ctx context.Context, paths []string, c Classifier) (Sequences, Stats, error) {
	var st Stats
	if len(paths) == 0 {
		return Sequences{}, st, ErrEmptyBatch
	}
	if c == nil {
		return Sequences{}, st, errors.New("score: nil classifier")
	}
	dim := sc.Dim
	if dim == 0 {
		dim = stamp.Dim
	}
	batch := make([]stamp.Stamp, len(paths))
	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			return Sequences{}, st, err
		}
		s, err := sc.Extractor.Extract(ctx, p, sc.Extension, sc.Magic)
		if err != nil {
			st.Failed++
			if sc.OnFailure != nil {
				sc.OnFailure(p, err)
			}
			s = stamp.Zero(dim)
		}
		st.Zeroed += s.Zeroed
		batch[i] = s
	}
	pred, err := c.Predict(batch)
	if err != nil {
		return Sequences{}, st, err
	}
	if len(pred) != len(paths) {
		return Sequences{}, st, fmt.Errorf("score: classifier returned %d predictions for %d images",
			len(pred), len(paths))
	}
	var seq Sequences
	for i, p := range paths {
		seq.add(sc.Key(p), pred[i][1])
	}
	return seq, st, nil
}

// Evidence maps instrument tag to the score sequence of one object.
type Evidence map[string][]float64

// Collect regroups per-instrument sequences into per-object evidence.
func Collect(byTag map[string]Sequences) map[string]Evidence {
	ev := map[string]Evidence{}
	for tag, seq := range byTag {
		for key, s := range seq.Scores {
			if len(s) == 0 {
				continue
			}
			if ev[key] == nil {
				ev[key] = Evidence{}
			}
			ev[key][tag] = s
		}
	}
	return ev
}

// Longest returns the tag with the longest sequence.  Equal lengths go to
// the lexicographically smallest tag.
func (e Evidence) Longest() (tag string, ok bool) {
	tags := make([]string, 0, len(e))
	for t, s := range e {
		if len(s) > 0 {
			tags = append(tags, t)
		}
	}
	if len(tags) == 0 {
		return "", false
	}
	sort.Strings(tags)
	tag = tags[0]
	for _, t := range tags[1:] {
		if len(e[t]) > len(e[tag]) {
			tag = t
		}
	}
	return tag, true
}

// Merge returns the final score for an object: the median of the longest
// sequence.  ok is false when there is no evidence at all.
func Merge(e Evidence) (final float64, ok bool) {
	tag, ok := e.Longest()
	if !ok {
		return 0, false
	}
	return Median(e[tag]), true
}

// Median returns the median of s, the mean of the two middle values when
// len(s) is even.  s is not modified.  The median of nothing is NaN.
func Median(s []float64) float64 {
	n := len(s)
	switch n {
	case 0:
		return math.NaN()
	case 1:
		return s[0]
	}
	c := append([]float64(nil), s...)
	sort.Float64s(c)
	if n%2 == 1 {
		return c[n/2]
	}
	return (c[n/2-1] + c[n/2]) / 2
}

// Result is the final score of one object.
type Result struct {
	Object string
	Score  float64
}
