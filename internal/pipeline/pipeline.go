// Public domain.

// Package pipeline scores one work fragment: it looks up the images of
// each candidate, routes them to instrument classifiers and merges the
// per-instrument scores into one score per object.
package pipeline

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/psat-ml/rbscore/internal/blobstore"
	"github.com/psat-ml/rbscore/internal/candidates"
	"github.com/psat-ml/rbscore/internal/instrument"
	"github.com/psat-ml/rbscore/internal/rblog"
	"github.com/psat-ml/rbscore/internal/score"
	"github.com/psat-ml/rbscore/internal/stamp"
)

// DefaultStatLimit bounds concurrent image existence checks.
const DefaultStatLimit = 16

// Source supplies the image records of a candidate.
type Source interface {
	Images(ctx context.Context, id int64) ([]instrument.Record, error)
}

// MissingClassifierError reports images routed to an instrument with no
// classifier configured.
type MissingClassifierError struct {
	Tag    string
	Images int
}

func (e *MissingClassifierError) Error() string {
	return fmt.Sprintf("no classifier for instrument %s (%d images)", e.Tag, e.Images)
}

// Stats counts what happened to the candidates of a fragment.
type Stats struct {
	Objects   int // candidates requested, after removing repeats
	Scored    int // objects given a score
	NoImages  int // objects with no image on disk
	Missing   int // image records whose file does not exist
	Unmatched int // images matching no instrument
	Failed    int // images that could not be read
	Zeroed    int // pixels replaced by zero

	// images scored per instrument tag
	Images map[string]int
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Objects += o.Objects
	s.Scored += o.Scored
	s.NoImages += o.NoImages
	s.Missing += o.Missing
	s.Unmatched += o.Unmatched
	s.Failed += o.Failed
	s.Zeroed += o.Zeroed
	for tag, n := range o.Images {
		if s.Images == nil {
			s.Images = map[string]int{}
		}
		s.Images[tag] += n
	}
}

// Partial is the result of one fragment.
type Partial struct {
	Scores []score.Result
	Stats  Stats
}

// Concat joins partial results in the order given.
func Concat(ps ...Partial) Partial {
	var all Partial
	n := 0
	for _, p := range ps {
		n += len(p.Scores)
	}
	all.Scores = make([]score.Result, 0, n)
	for _, p := range ps {
		all.Scores = append(all.Scores, p.Scores...)
		all.Stats.Add(p.Stats)
	}
	return all
}

// Pipeline holds what scoring needs.  Classifiers maps instrument tag to
// classifier; instruments without one must receive no images.
type Pipeline struct {
	Source      Source
	Blobs       blobstore.Store
	Extractor   stamp.Extractor
	Classifiers map[string]score.Classifier
	Table       instrument.Table
	Magic       *int
	StatLimit   int
	Log         *rblog.Logger
}

func (p *Pipeline) logger() *rblog.Logger {
	if p.Log == nil {
		return rblog.NoopLogger()
	}
	return p.Log
}

// Run scores the objects ids.  Results follow the order of ids; objects
// without usable images are left out.
func (p *Pipeline) Run(ctx context.Context, ids []int64) (Partial, error) {
	var out Partial
	ids = candidates.Dedupe(ids)
	out.Stats.Objects = len(ids)
	if len(ids) == 0 {
		return out, nil
	}

	// image lookup is sequential on the one store connection
	var recs []instrument.Record
	owner := []int{}
	for i, id := range ids {
		r, err := p.Source.Images(ctx, id)
		if err != nil {
			return out, err
		}
		recs = append(recs, r...)
		for range r {
			owner = append(owner, i)
		}
	}

	exists, err := p.exists(ctx, recs)
	if err != nil {
		return out, err
	}
	have := make([]bool, len(ids))
	present := recs[:0:0]
	for i, r := range recs {
		if !exists[i] {
			out.Stats.Missing++
			continue
		}
		have[owner[i]] = true
		present = append(present, r)
	}
	for _, h := range have {
		if !h {
			out.Stats.NoImages++
		}
	}

	parts, unmatched := p.Table.Partition(present)
	out.Stats.Unmatched = len(unmatched)
	p.logger().LogFiltered(ctx, len(ids), out.Stats.NoImages, len(unmatched))

	byTag, err := p.scorePartitions(ctx, parts, "_", false, &out.Stats)
	if err != nil {
		return out, err
	}
	ev := score.Collect(byTag)
	for _, id := range ids {
		key := strconv.FormatInt(id, 10)
		if f, ok := score.Merge(ev[key]); ok {
			out.Scores = append(out.Scores, score.Result{Object: key, Score: f})
		}
	}
	out.Stats.Scored = len(out.Scores)
	return out, nil
}

// exists checks every record against the blob store.
func (p *Pipeline) exists(ctx context.Context, recs []instrument.Record) ([]bool, error) {
	found := make([]bool, len(recs))
	limit := p.StatLimit
	if limit <= 0 {
		limit = DefaultStatLimit
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, r := range recs {
		i, r := i, r
		g.Go(func() error {
			ok, err := blobstore.Exists(ctx, p.Blobs, r.Path)
			if err != nil {
				return fmt.Errorf("checking %s: %w", r.Path, err)
			}
			found[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return found, nil
}

// scorePartitions scores populated partitions in table order.  Every
// partition is checked for a classifier before any is scored.
func (p *Pipeline) scorePartitions(ctx context.Context, parts instrument.Partitions, sep string, keep bool, st *Stats) (map[string]score.Sequences, error) {
	for _, in := range p.Table {
		if n := len(parts[in.Tag]); n > 0 && p.Classifiers[in.Tag] == nil {
			return nil, &MissingClassifierError{Tag: in.Tag, Images: n}
		}
	}
	byTag := map[string]score.Sequences{}
	for _, in := range p.Table {
		paths := parts.Paths(in.Tag)
		if len(paths) == 0 {
			continue
		}
		log := p.logger().WithInstrument(in.Tag)
		var magic *int
		if in.Magic {
			magic = p.Magic
		}
		sc := score.Scorer{
			Extractor:    p.Extractor,
			Extension:    in.Extension,
			Magic:        magic,
			Separator:    sep,
			KeepFilename: keep,
			OnFailure: func(path string, err error) {
				log.DebugContext(ctx, "image unreadable", "path", path, "error", err)
			},
		}
		seq, sst, err := sc.Score(ctx, paths, p.Classifiers[in.Tag])
		log.LogPartition(ctx, in.Tag, len(paths), seq.Len(), sst.Failed, err)
		if err != nil {
			return nil, fmt.Errorf("instrument %s: %w", in.Tag, err)
		}
		st.Failed += sst.Failed
		st.Zeroed += sst.Zeroed
		if st.Images == nil {
			st.Images = map[string]int{}
		}
		st.Images[in.Tag] += len(paths)
		byTag[in.Tag] = seq
	}
	return byTag, nil
}

// ImageTag is the instrument tag used for arbitrary images.
const ImageTag = "image"

// RunImages scores arbitrary image files with one classifier.  The
// object key is the file name up to its first dot, or the whole file name
// with keepFilename.  A path given more than once is scored once.
// Results follow first appearance of each key.
func RunImages(ctx context.Context, ex stamp.Extractor, c score.Classifier, paths []string, ext int, keepFilename bool, log *rblog.Logger) (Partial, error) {
	var out Partial
	paths = candidates.DedupeStrings(paths)
	if len(paths) == 0 {
		return out, nil
	}
	p := &Pipeline{
		Extractor:   ex,
		Classifiers: map[string]score.Classifier{ImageTag: c},
		Table:       instrument.Table{{Tag: ImageTag, Heading: "any image", Extension: ext}},
		Log:         log,
	}
	parts := instrument.Partitions{}
	for _, path := range paths {
		parts[ImageTag] = append(parts[ImageTag], instrument.Record{Path: path})
	}
	out.Stats.Objects = len(paths)
	byTag, err := p.scorePartitions(ctx, parts, ".", keepFilename, &out.Stats)
	if err != nil {
		return out, err
	}
	seq := byTag[ImageTag]
	for _, key := range seq.Order {
		out.Scores = append(out.Scores, score.Result{Object: key, Score: score.Median(seq.Scores[key])})
	}
	out.Stats.Scored = len(out.Scores)
	return out, nil
}
