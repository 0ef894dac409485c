// Public domain.

package rbprog

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soniakeys/exit"

	"github.com/psat-ml/rbscore/internal/blobstore"
	"github.com/psat-ml/rbscore/internal/blobstore/minio"
	"github.com/psat-ml/rbscore/internal/blobstore/s3"
	"github.com/psat-ml/rbscore/internal/candidates"
	"github.com/psat-ml/rbscore/internal/dispatch"
	"github.com/psat-ml/rbscore/internal/metrics"
	"github.com/psat-ml/rbscore/internal/model"
	"github.com/psat-ml/rbscore/internal/pipeline"
	"github.com/psat-ml/rbscore/internal/rbconf"
	"github.com/psat-ml/rbscore/internal/rblog"
	"github.com/psat-ml/rbscore/internal/results"
	"github.com/psat-ml/rbscore/internal/score"
	"github.com/psat-ml/rbscore/internal/split"
	"github.com/psat-ml/rbscore/internal/stamp"
	"github.com/psat-ml/rbscore/internal/store"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runDatabase scores candidates from the survey database.  The parent
// process alone updates the database, once all dispatch cycles succeed.
func runDatabase(cl *commandLine) {
	cfg := cl.cfg
	f, err := rbconf.Load(cl.configFile)
	if err != nil {
		exit.Log(err)
	}
	cfg.Database = f.Databases.Local
	cfg.Images = f.Images
	if err := cfg.Validate(); err != nil {
		exit.Log(err)
	}

	ctx, stop := signalContext()
	defer stop()
	runID := dispatch.NewRunID()
	start := time.Now()
	log := rblog.NewTextLogger(os.Stderr, rblog.Level(cfg.Verbose)).WithRunID(runID)

	// models are read before anything else so a bad one stops the run
	// before any database work
	classifiers, err := loadClassifiers(cfg)
	if err != nil {
		exit.Log(err)
	}
	db, err := openStore(ctx, cfg, log)
	if err != nil {
		exit.Log(err)
	}
	defer db.Close()
	blobs, err := openBlobs(ctx, cfg)
	if err != nil {
		exit.Log(err)
	}

	ids, err := candidateIDs(ctx, cl, cfg, db)
	if err != nil {
		exit.Log(err)
	}
	ids = candidates.Dedupe(ids)
	log.Info("candidates", "survey", cfg.Survey, "objects", len(ids),
		"classifiers", cfg.ClassifierTags())

	local := &pipeline.Pipeline{
		Source:      db,
		Blobs:       blobs,
		Extractor:   stamp.FITS{Store: blobs},
		Classifiers: classifiers,
		Table:       cfg.Table(),
		Magic:       cfg.Magic,
		Log:         log,
	}
	d := &dispatch.Dispatcher{
		Runner: &dispatch.ProcessRunner{
			RunID:  runID,
			Config: cfg,
			LogFile: func(n int) string {
				return rblog.FileName(cfg.LogLocation, cfg.LogPrefix, start, n)
			},
			Stderr: os.Stderr,
		},
		Local: local.Run,
		Log:   log,
		OnState: func(s dispatch.State) {
			log.Debug("dispatch", "state", s)
		},
	}

	m := metrics.New()
	if err := runCycles(ctx, d, db, ids, cfg, m, log); err != nil {
		exit.Log(err)
	}
	log.Info("run complete", "elapsed", time.Since(start).Round(time.Millisecond))
	writeMetrics(cfg, m, log)
}

// cycler runs one dispatch cycle.
type cycler interface {
	Run(ctx context.Context, frags [][]int64) (pipeline.Partial, error)
}

// runCycles scores ids in dispatch cycles, writes the output file and
// then, with cfg.Update, stores all scores in one update.  A failed cycle
// leaves both the output file and the store untouched.
func runCycles(ctx context.Context, d cycler, u results.Updater, ids []int64, cfg rbconf.Config, m *metrics.Run, log *rblog.Logger) error {
	var all []score.Result
	for i, batch := range batches(ids, cfg) {
		frags := split.Split(batch, cfg.Workers, cfg.PreserveOrder)
		p, err := d.Run(ctx, frags)
		if err != nil {
			return fmt.Errorf("cycle %d: %w", i, err)
		}
		m.Cycle(len(frags))
		m.Record(p.Stats)
		log.Info("cycle complete", "cycle", i, "objects", len(batch),
			"workers", len(frags), "scored", len(p.Scores),
			"without_images", p.Stats.NoImages, "failed_images", p.Stats.Failed)
		all = append(all, p.Scores...)
	}

	if err := results.WriteFile(cfg.OutputCSV, all); err != nil {
		return err
	}
	log.Info("scores written", "file", cfg.OutputCSV, "objects", len(all))
	if !cfg.Update {
		return nil
	}
	n, err := results.Update(ctx, u, all)
	if err != nil {
		return err
	}
	m.Updated(n)
	log.Info("database updated", "rows", n)
	return nil
}

// batches divides long candidate lists into dispatch cycles.
func batches(ids []int64, cfg rbconf.Config) [][]int64 {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) <= cfg.BatchThreshold {
		return [][]int64{ids}
	}
	return split.Split(ids, cfg.Batches, false)
}

// candidateIDs returns the candidates named on the command line, or the
// unscored objects of the detection list when none are.
func candidateIDs(ctx context.Context, cl *commandLine, cfg rbconf.Config, db *store.Store) ([]int64, error) {
	switch {
	case len(cl.args) == 0:
		return db.ObjectsByList(ctx, cfg.ListID)
	case cl.candidatesInFiles:
		return candidates.ReadIDs(cl.args...)
	}
	return candidates.ParseIDs(cl.args)
}

func loadClassifiers(cfg rbconf.Config) (map[string]score.Classifier, error) {
	m := map[string]score.Classifier{}
	for _, tag := range cfg.ClassifierTags() {
		net, err := model.ReadFile(cfg.Classifiers[tag])
		if err != nil {
			return nil, fmt.Errorf("%s classifier: %w", tag, err)
		}
		m[tag] = net
	}
	return m, nil
}

func openStore(ctx context.Context, cfg rbconf.Config, log *rblog.Logger) (*store.Store, error) {
	return store.Open(ctx, cfg.Database, store.Options{
		Survey:    cfg.Survey,
		ImageRoot: cfg.ImageRoot,
		Table:     cfg.TableName,
		Column:    cfg.ColumnName,
	}, log)
}

func openBlobs(ctx context.Context, cfg rbconf.Config) (blobstore.Store, error) {
	im := cfg.Images
	var s blobstore.Store
	switch im.Source {
	case "minio":
		client, err := minio.Dial(im.Endpoint, im.AccessKey, im.SecretKey, im.Secure)
		if err != nil {
			return nil, err
		}
		s = minio.NewStore(client, im.Bucket, im.Prefix)
	case "s3":
		client, err := s3.NewClient(ctx, im.Region)
		if err != nil {
			return nil, err
		}
		s = s3.NewStore(client, im.Bucket, im.Prefix)
	default:
		s = blobstore.NewLocalStore("")
	}
	return blobstore.NewLimited(s, im.RequestsPerSecond), nil
}

func writeMetrics(cfg rbconf.Config, m *metrics.Run, log *rblog.Logger) {
	if cfg.MetricsFile == "" {
		return
	}
	if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
		log.Warn("metrics not written", "file", cfg.MetricsFile, "error", err)
	}
}

// runWorker serves one job from the parent process on stdin and stdout.
func runWorker() {
	ctx, stop := signalContext()
	defer stop()
	if err := dispatch.ServeWorker(ctx, os.Stdin, os.Stdout, work); err != nil {
		exit.Log(err)
	}
}

// work scores one fragment in a worker process, with its own database
// connection and log file.
func work(ctx context.Context, job dispatch.Job) (pipeline.Partial, error) {
	cfg := job.Config
	log := rblog.NoopLogger()
	if job.LogFile != "" {
		l, c, err := rblog.OpenFile(job.LogFile, rblog.Level(cfg.Verbose))
		if err != nil {
			return pipeline.Partial{}, err
		}
		defer c.Close()
		log = l
	}
	log = log.WithRunID(job.RunID).WithWorker(job.Worker)
	log.Info("worker started", "objects", len(job.IDs), "pid", os.Getpid())

	classifiers, err := loadClassifiers(cfg)
	if err != nil {
		return pipeline.Partial{}, err
	}
	db, err := openStore(ctx, cfg, log)
	if err != nil {
		return pipeline.Partial{}, err
	}
	defer db.Close()
	blobs, err := openBlobs(ctx, cfg)
	if err != nil {
		return pipeline.Partial{}, err
	}
	p := &pipeline.Pipeline{
		Source:      db,
		Blobs:       blobs,
		Extractor:   stamp.FITS{Store: blobs},
		Classifiers: classifiers,
		Table:       cfg.Table(),
		Magic:       cfg.Magic,
		Log:         log,
	}
	part, err := p.Run(ctx, job.IDs)
	if err != nil {
		log.Error("fragment failed", "error", err)
		return part, err
	}
	if cfg.WorkerCSV && cfg.OutputCSV != "" {
		fn := results.WorkerFileName(cfg.OutputCSV, os.Getpid(), job.Worker)
		// WriteFile sorts; the reply keeps fragment order
		own := append([]score.Result(nil), part.Scores...)
		if err := results.WriteFile(fn, own); err != nil {
			return part, err
		}
	}
	log.Info("worker done", "scored", len(part.Scores))
	return part, nil
}

// runImages scores arbitrary image files with one classifier.
func runImages(cl *commandLine) {
	cfg := cl.cfg
	if cl.classifier == "" {
		exit.Log("Image mode needs -classifier.")
	}
	net, err := model.ReadFile(cl.classifier)
	if err != nil {
		exit.Log(err)
	}
	paths := cl.args
	if cl.candidatesInFiles {
		if paths, err = candidates.ReadLines(cl.args...); err != nil {
			exit.Log(err)
		}
	}
	ctx, stop := signalContext()
	defer stop()
	log := rblog.NewTextLogger(os.Stderr, rblog.Level(cfg.Verbose))
	blobs := blobstore.NewLocalStore("")
	p, err := pipeline.RunImages(ctx, stamp.FITS{Store: blobs}, net,
		paths, cfg.Extension, cfg.KeepFilename, log)
	if err != nil {
		exit.Log(err)
	}
	if p.Stats.Failed > 0 {
		log.Warn("unreadable images scored as blank", "images", p.Stats.Failed)
	}
	if err := writeScores(os.Stdout, cfg.OutputCSV, p.Scores); err != nil {
		exit.Log(err)
	}
}

// writeScores writes sorted scores to fn, or to w when fn is empty.
func writeScores(w io.Writer, fn string, rs []score.Result) error {
	if fn != "" {
		return results.WriteFile(fn, rs)
	}
	results.Sort(rs)
	return results.Write(w, rs)
}
