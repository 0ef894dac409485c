// Public domain.

package instrument_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psat-ml/rbscore/internal/instrument"
)

func ExampleTable_Partition() {
	recs := []instrument.Record{
		{Path: "/db4/images/atlas4/60210/1130_02a60210o0412c.diff.fits"},
		{Path: "/db4/images/atlas4/60210/1130_01a60210o0388o.diff.fits"},
		{Path: "/db4/images/atlas4/60210/1130_02a60210o0433c.diff.fits"},
		{Path: "/db4/images/atlas4/60210/1130_05r60210o0101c.diff.fits"},
	}
	p, unmatched := instrument.ATLAS.Partition(recs)
	for _, tag := range p.Tags() {
		fmt.Println(tag, len(p[tag]))
	}
	fmt.Println("unmatched", len(unmatched))
	// Output:
	// hko 2
	// mlo 1
	// unmatched 1
}

func TestPartitionKeepsOrder(t *testing.T) {
	recs := []instrument.Record{
		{Path: "a_02a_1.fits"},
		{Path: "b_01a_1.fits"},
		{Path: "c_02a_2.fits"},
		{Path: "d_02a_3.fits"},
	}
	p, unmatched := instrument.ATLAS.Partition(recs)
	assert.Empty(t, unmatched)
	assert.Equal(t, []string{"a_02a_1.fits", "c_02a_2.fits", "d_02a_3.fits"}, p.Paths("hko"))
	assert.Equal(t, []string{"b_01a_1.fits"}, p.Paths("mlo"))
	assert.Nil(t, p.Paths("sth"))
}

func TestPartitionDisjoint(t *testing.T) {
	var recs []instrument.Record
	for i := 0; i < 40; i++ {
		recs = append(recs, instrument.Record{
			Path: fmt.Sprintf("/img/%d_0%da60000o%04d.fits", i, i%6, i),
		})
	}
	p, unmatched := instrument.ATLAS.Partition(recs)
	seen := map[string]int{}
	for _, tag := range p.Tags() {
		for _, r := range p[tag] {
			seen[r.Path]++
		}
	}
	for _, r := range unmatched {
		seen[r.Path]++
	}
	require.Len(t, seen, len(recs))
	for path, n := range seen {
		assert.Equal(t, 1, n, path)
	}
	assert.Equal(t, len(recs), p.Len()+len(unmatched))
}

func TestPartitionFirstMatchWins(t *testing.T) {
	// a path carrying two camera codes goes to the earlier table entry
	p, _ := instrument.ATLAS.Partition([]instrument.Record{{Path: "x_01a_02a.fits"}})
	assert.Len(t, p["hko"], 1)
	assert.Empty(t, p["mlo"])
}

func TestPartitionFilterField(t *testing.T) {
	recs := []instrument.Record{
		{Path: "/psdb/1_a.fits", Filter: "w.00000"},
		{Path: "/psdb/1_b.fits", Filter: "i.00002"},
		{Path: "/psdb/2_a.fits", Filter: "w.00000"},
		{Path: "/psdb/3_a.fits", Filter: ""},
	}
	p, unmatched := instrument.PanSTARRS.Partition(recs)
	assert.Equal(t, []string{"/psdb/1_a.fits", "/psdb/2_a.fits"}, p.Paths("ps1"))
	assert.Equal(t, []string{"/psdb/1_b.fits"}, p.Paths("ps2"))
	assert.Len(t, unmatched, 1)
}

func TestLookup(t *testing.T) {
	in, ok := instrument.PanSTARRS.Lookup("ps2")
	require.True(t, ok)
	assert.Equal(t, 1, in.Extension)
	_, ok = instrument.ATLAS.Lookup("ps1")
	assert.False(t, ok)
	assert.Equal(t, []string{"hko", "mlo", "sth", "chl"}, instrument.ATLAS.Tags())
}
