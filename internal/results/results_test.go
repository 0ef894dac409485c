// Public domain.

package results

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/psat-ml/rbscore/internal/fileio"
	"github.com/psat-ml/rbscore/internal/score"
)

func ExampleWrite() {
	rs := []score.Result{{Object: "1130", Score: 0.9}, {Object: "42", Score: 0.15}}
	Sort(rs)
	Write(os.Stdout, rs)
	// Output:
	// 42,0.150000
	// 1130,0.900000
}

func TestSortStable(t *testing.T) {
	rs := []score.Result{{Object: "a", Score: 0.5}, {Object: "b", Score: 0.1}, {Object: "c", Score: 0.5}, {Object: "d", Score: 0.1}}
	Sort(rs)
	assert.Equal(t, []score.Result{{Object: "b", Score: 0.1}, {Object: "d", Score: 0.1}, {Object: "a", Score: 0.5}, {Object: "c", Score: 0.5}}, rs)
}

func TestWriteFileIdempotent(t *testing.T) {
	dir := t.TempDir()
	rs := []score.Result{{Object: "3", Score: 0.25}, {Object: "1", Score: 0.75}, {Object: "2", Score: 0.25}}
	a := filepath.Join(dir, "a.csv")
	require.NoError(t, WriteFile(a, rs))
	first, err := os.ReadFile(a)
	require.NoError(t, err)
	assert.Equal(t, "3,0.250000\n2,0.250000\n1,0.750000\n", string(first))

	// rs is now sorted; writing it again gives the same file
	b := filepath.Join(dir, "b.csv")
	require.NoError(t, WriteFile(b, rs))
	second, err := os.ReadFile(b)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestWriteFileEmptyAndCompressed(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.csv")
	require.NoError(t, WriteFile(empty, nil))
	fi, err := os.Stat(empty)
	require.NoError(t, err)
	assert.Zero(t, fi.Size())

	gz := filepath.Join(dir, "out.csv.gz")
	require.NoError(t, WriteFile(gz, []score.Result{{Object: "9", Score: 0.5}}))
	r, err := fileio.Open(gz)
	require.NoError(t, err)
	defer r.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	require.NoError(t, err)
	assert.Equal(t, "9,0.500000\n", buf.String())

	assert.Error(t, WriteFile(filepath.Join(dir, "no", "such", "dir.csv"), nil))
}

func TestWorkerFileName(t *testing.T) {
	assert.Equal(t, "/tmp/out_4242_007.csv", WorkerFileName("/tmp/out.csv", 4242, 7))
	assert.Equal(t, "scores_1_000", WorkerFileName("scores", 1, 0))
}

type mockUpdater struct{ mock.Mock }

func (m *mockUpdater) UpdateScores(ctx context.Context, rs []score.Result) (int64, error) {
	args := m.Called(ctx, rs)
	return args.Get(0).(int64), args.Error(1)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	u := &mockUpdater{}
	rs := []score.Result{{Object: "1", Score: 0.1}}
	u.On("UpdateScores", ctx, rs).Return(int64(1), nil).Once()
	n, err := Update(ctx, u, rs)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = Update(ctx, u, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	u.AssertExpectations(t)

	bad := &mockUpdater{}
	bad.On("UpdateScores", ctx, rs).Return(int64(0), errors.New("gone away"))
	_, err = Update(ctx, bad, rs)
	assert.ErrorContains(t, err, "gone away")
}
