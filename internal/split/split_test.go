// Public domain.

package split

import (
	"fmt"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xrand "golang.org/x/exp/rand"
)

func ExampleSplit() {
	items := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	fmt.Println(Split(items, 3, false))
	fmt.Println(Split(items, 3, true))
	// Output:
	// [[1 4 7 10] [2 5 8] [3 6 9]]
	// [[1 2 3 4] [5 6 7] [8 9 10]]
}

func TestBins(t *testing.T) {
	assert.Equal(t, 3, Bins(10, 3))
	assert.Equal(t, 2, Bins(2, 28))
	assert.Equal(t, 0, Bins(0, 4))
	assert.Equal(t, MaxBins, Bins(1000, MaxBins))
	cpu := runtime.NumCPU()
	assert.Equal(t, min(cpu, 1000), Bins(1000, MaxBins+1))
	assert.Equal(t, min(cpu, 1000), Bins(1000, 0))
}

func TestSplitEmpty(t *testing.T) {
	assert.Nil(t, Split([]string(nil), 4, true))
	assert.Nil(t, Split([]string{}, 4, false))
}

func TestSplitTotal(t *testing.T) {
	rnd := xrand.New(&xrand.PCGSource{})
	rnd.Seed(3)
	for trial := 0; trial < 100; trial++ {
		n := rnd.Intn(500)
		items := make([]int, n)
		for i := range items {
			items[i] = i
		}
		bins := rnd.Intn(300)
		for _, ordered := range []bool{true, false} {
			frags := Split(items, bins, ordered)
			require.Len(t, frags, Bins(n, bins))
			seen := make([]bool, n)
			var flat []int
			for _, f := range frags {
				require.NotEmpty(t, f)
				for _, v := range f {
					require.False(t, seen[v])
					seen[v] = true
				}
				flat = append(flat, f...)
			}
			require.Len(t, flat, n)
			if ordered {
				for i, v := range flat {
					require.Equal(t, i, v)
				}
			}
		}
	}
}
