// Public domain.

package rbprog

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psat-ml/rbscore/internal/metrics"
	"github.com/psat-ml/rbscore/internal/pipeline"
	"github.com/psat-ml/rbscore/internal/rbconf"
	"github.com/psat-ml/rbscore/internal/rblog"
	"github.com/psat-ml/rbscore/internal/score"
)

func TestParseDatabaseMode(t *testing.T) {
	cl := parseCommandLine([]string{
		"-hkoclassifier", "/m/hko.json", "-mloclassifier", "/m/mlo.json",
		"-magicnumber", "-31415", "-update", "-workers", "4",
		"config.yaml", "1130", "42",
	})
	assert.Equal(t, "config.yaml", cl.configFile)
	assert.Equal(t, []string{"1130", "42"}, cl.args)
	c := cl.cfg
	assert.Equal(t, rbconf.ATLAS, c.Survey)
	assert.Equal(t, map[string]string{"hko": "/m/hko.json", "mlo": "/m/mlo.json"}, c.Classifiers)
	require.NotNil(t, c.Magic)
	assert.Equal(t, -31415, *c.Magic)
	assert.True(t, c.Update)
	assert.Equal(t, 4, c.Workers)
	assert.Equal(t, rbconf.DefaultListID, c.ListID)
	assert.Equal(t, rbconf.DefaultOutputCSV, c.OutputCSV)
	assert.Equal(t, "atlas_diff_objects", c.TableName)
	assert.Equal(t, "zooniverse_score", c.ColumnName)
}

func TestParsePanSTARRS(t *testing.T) {
	cl := parseCommandLine([]string{
		"-hkoclassifier", "/m/hko.json", "-ps1classifier", "/m/ps1.json",
		"-listid", "2", "-outputcsv", "/tmp/ps.csv", "config.yaml",
	})
	c := cl.cfg
	assert.Equal(t, rbconf.PanSTARRS, c.Survey)
	assert.Equal(t, []string{"ps1"}, c.ClassifierTags())
	assert.Equal(t, "tcs_transient_objects", c.TableName)
	assert.Equal(t, "confidence_factor", c.ColumnName)
	assert.Equal(t, 2, c.ListID)
	assert.Equal(t, "/tmp/ps.csv", c.OutputCSV)
	assert.Nil(t, c.Magic)
	assert.Empty(t, cl.args)
}

func TestParseImageMode(t *testing.T) {
	cl := parseCommandLine([]string{
		"-images", "-classifier", "/m/ps1.json", "-fitsextension", "1", "-keepfilename",
		"a.fits", "b.fits",
	})
	assert.True(t, cl.images)
	assert.Equal(t, "/m/ps1.json", cl.classifier)
	assert.Equal(t, []string{"a.fits", "b.fits"}, cl.args)
	assert.Equal(t, 1, cl.cfg.Extension)
	assert.True(t, cl.cfg.KeepFilename)
	assert.Empty(t, cl.cfg.OutputCSV)
}

func TestParseWorker(t *testing.T) {
	cl := parseCommandLine([]string{"-worker"})
	assert.True(t, cl.worker)
}

func TestBatches(t *testing.T) {
	cfg := rbconf.Default()
	assert.Nil(t, batches(nil, cfg))

	ids := make([]int64, 100)
	for i := range ids {
		ids[i] = int64(i)
	}
	assert.Len(t, batches(ids, cfg), 1)

	ids = append(ids, 100)
	b := batches(ids, cfg)
	require.Len(t, b, 16)
	assert.Equal(t, []int64{0, 16, 32, 48, 64, 80, 96}, b[0])
	var n int
	for _, frag := range b {
		n += len(frag)
	}
	assert.Equal(t, 101, n)
}

func TestCandidateIDs(t *testing.T) {
	ids, err := candidateIDs(context.Background(), &commandLine{args: []string{"7", "3"}}, rbconf.Default(), nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 3}, ids)

	fn := filepath.Join(t.TempDir(), "candidates.txt")
	require.NoError(t, os.WriteFile(fn, []byte("5\n6\n5\n"), 0o644))
	ids, err = candidateIDs(context.Background(),
		&commandLine{args: []string{fn}, candidatesInFiles: true}, rbconf.Default(), nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 6}, ids)

	_, err = candidateIDs(context.Background(), &commandLine{args: []string{"x"}}, rbconf.Default(), nil)
	assert.Error(t, err)
}

func TestWriteScores(t *testing.T) {
	var buf bytes.Buffer
	rs := []score.Result{{Object: "b", Score: 0.75}, {Object: "a", Score: 0.25}}
	require.NoError(t, writeScores(&buf, "", rs))
	assert.Equal(t, "a,0.250000\nb,0.750000\n", buf.String())

	fn := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, writeScores(&buf, fn, rs))
	b, err := os.ReadFile(fn)
	require.NoError(t, err)
	assert.Equal(t, "a,0.250000\nb,0.750000\n", string(b))
}

func TestLoadClassifiersMissing(t *testing.T) {
	cfg := rbconf.Default()
	cfg.SetClassifiers(map[string]string{"hko": filepath.Join(t.TempDir(), "none.json")})
	_, err := loadClassifiers(cfg)
	assert.ErrorContains(t, err, "hko classifier")
}

// scriptedCycles scores every id as id/10 and fails cycle failAt.
type scriptedCycles struct {
	failAt int
	calls  int
}

func (s *scriptedCycles) Run(_ context.Context, frags [][]int64) (pipeline.Partial, error) {
	n := s.calls
	s.calls++
	if n == s.failAt {
		return pipeline.Partial{}, &pipeline.MissingClassifierError{Tag: "sth", Images: 1}
	}
	var p pipeline.Partial
	for _, f := range frags {
		for _, id := range f {
			p.Scores = append(p.Scores, score.Result{
				Object: strconv.FormatInt(id, 10),
				Score:  float64(id) / 10,
			})
		}
	}
	return p, nil
}

type countingUpdater struct {
	calls int
	rows  []score.Result
}

func (u *countingUpdater) UpdateScores(_ context.Context, rs []score.Result) (int64, error) {
	u.calls++
	u.rows = append(u.rows, rs...)
	return int64(len(rs)), nil
}

func cycleConfig(t *testing.T) rbconf.Config {
	cfg := rbconf.Default()
	cfg.BatchThreshold = 2
	cfg.Batches = 3
	cfg.Workers = 2
	cfg.Update = true
	cfg.OutputCSV = filepath.Join(t.TempDir(), "scores.csv")
	return cfg
}

func TestRunCyclesFailureLeavesStoreAlone(t *testing.T) {
	cfg := cycleConfig(t)
	d := &scriptedCycles{failAt: 1}
	u := &countingUpdater{}
	err := runCycles(context.Background(), d, u, []int64{1, 2, 3, 4, 5, 6},
		cfg, metrics.New(), rblog.NoopLogger())
	var mc *pipeline.MissingClassifierError
	require.True(t, errors.As(err, &mc))
	assert.Equal(t, 2, d.calls)
	assert.Zero(t, u.calls)
	_, err = os.Stat(cfg.OutputCSV)
	assert.True(t, os.IsNotExist(err))
}

func TestRunCyclesSingleUpdate(t *testing.T) {
	cfg := cycleConfig(t)
	d := &scriptedCycles{failAt: -1}
	u := &countingUpdater{}
	require.NoError(t, runCycles(context.Background(), d, u, []int64{1, 2, 3, 4, 5, 6},
		cfg, metrics.New(), rblog.NoopLogger()))
	assert.Equal(t, 3, d.calls)
	assert.Equal(t, 1, u.calls)
	assert.Len(t, u.rows, 6)

	b, err := os.ReadFile(cfg.OutputCSV)
	require.NoError(t, err)
	assert.Equal(t, "1,0.100000\n2,0.200000\n3,0.300000\n4,0.400000\n5,0.500000\n6,0.600000\n", string(b))

	cfg.Update = false
	u = &countingUpdater{}
	require.NoError(t, runCycles(context.Background(), &scriptedCycles{failAt: -1}, u,
		[]int64{1, 2, 3}, cfg, metrics.New(), rblog.NoopLogger()))
	assert.Zero(t, u.calls)
}
