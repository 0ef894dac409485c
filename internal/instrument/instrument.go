// Public domain.

// Package instrument defines the telescope/camera tables used to route
// candidate images to per-instrument classifiers.
package instrument

import (
	"sort"
	"strings"
)

// Record is one image of a candidate as supplied by the store.
// Filter is the survey filter code; it is empty for ATLAS images.
type Record struct {
	Path   string
	Filter string
}

// Field selects which part of a Record an instrument matches against.
type Field int

const (
	PathField Field = iota
	FilterField
)

// Instrument describes one telescope or camera.
//
// A record belongs to the instrument when its Field contains Substr.
// Extension is the FITS HDU holding the difference image. Magic reports
// whether sentinel pixel masking applies to images from this instrument.
type Instrument struct {
	Tag, Heading string
	Field        Field
	Substr       string
	Extension    int
	Magic        bool
}

// Match reports whether r was produced by the instrument.
func (in Instrument) Match(r Record) bool {
	if in.Field == FilterField {
		return strings.Contains(r.Filter, in.Substr)
	}
	return strings.Contains(r.Path, in.Substr)
}

// Table is an ordered set of instruments.  Order decides which instrument
// wins when a record could match more than one.
type Table []Instrument

// ATLAS units.  Camera codes appear in exposure names, and so in
// image paths.
var ATLAS = Table{
	{"hko", "ATLAS Haleakala", PathField, "02a", 0, true},
	{"mlo", "ATLAS Mauna Loa", PathField, "01a", 0, true},
	{"sth", "ATLAS Sutherland", PathField, "03a", 0, true},
	{"chl", "ATLAS El Sauce", PathField, "04a", 0, true},
}

// PanSTARRS cameras, distinguished by the filter column.
var PanSTARRS = Table{
	{"ps1", "Pan-STARRS1 GPC1", FilterField, "00000", 1, false},
	{"ps2", "Pan-STARRS2 GPC2", FilterField, "00002", 1, false},
}

// Lookup returns the instrument with the given tag.
func (t Table) Lookup(tag string) (Instrument, bool) {
	for _, in := range t {
		if in.Tag == tag {
			return in, true
		}
	}
	return Instrument{}, false
}

// Tags returns instrument tags in table order.
func (t Table) Tags() []string {
	tags := make([]string, len(t))
	for i, in := range t {
		tags[i] = in.Tag
	}
	return tags
}

// Partitions maps an instrument tag to the records routed to it.
// Tags with no records are absent.
type Partitions map[string][]Record

// Partition routes each record to the first instrument in t that matches
// it.  Input order is kept within each partition.  Records matching no
// instrument are returned separately.
func (t Table) Partition(recs []Record) (p Partitions, unmatched []Record) {
	p = Partitions{}
	for _, r := range recs {
		matched := false
		for _, in := range t {
			if in.Match(r) {
				p[in.Tag] = append(p[in.Tag], r)
				matched = true
				break
			}
		}
		if !matched {
			unmatched = append(unmatched, r)
		}
	}
	return
}

// Paths returns the image paths of the partition for tag.
func (p Partitions) Paths(tag string) []string {
	recs := p[tag]
	if len(recs) == 0 {
		return nil
	}
	paths := make([]string, len(recs))
	for i, r := range recs {
		paths[i] = r.Path
	}
	return paths
}

// Tags returns the populated tags in ascending order.
func (p Partitions) Tags() []string {
	tags := make([]string, 0, len(p))
	for tag := range p {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Len is the total number of records over all partitions.
func (p Partitions) Len() (n int) {
	for _, recs := range p {
		n += len(recs)
	}
	return
}
