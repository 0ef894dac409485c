// Public domain.

package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/psat-ml/rbscore/internal/candidates"
)

const parentImport = "github.com/psat-ml/rbscore"
const versionString = "mcc version 1.0"
const copyrightString = "Public domain."

func main() {
	// parse command line
	col := flag.Int("c", 1, "column containing real/bogus score")
	mdr := flag.Float64("mdr", 0.04, "missed detection rate for the operating point")
	vers := flag.Bool("v", false, "display version and copyright")
	flag.Usage = func() {
		os.Stderr.WriteString(
			"Usage: mcc [options] <real> <bogus> [threshold]\n")
		flag.PrintDefaults()
		os.Stderr.WriteString(`
For full documentation:
   go doc ` + parentImport + `/mcc
`)
	}
	flag.Parse()
	if *vers {
		fmt.Println(versionString)
		fmt.Println(copyrightString)
		os.Exit(0)
	}
	if n := flag.NArg(); n < 2 || n > 3 {
		flag.Usage()
		os.Exit(1)
	}
	// parse threshold
	threshold := .5
	thresholdPrec := 2
	if flag.NArg() == 3 {
		tStr := flag.Arg(2)
		var err error
		threshold, err = strconv.ParseFloat(tStr, 64)
		if err != nil {
			log.Fatalln("Bad threshold:", err)
		}
		if p := strings.Index(tStr, "."); p >= 0 {
			thresholdPrec = len(tStr) - p - 1
		}
	}
	reals, ignoredReal, err := readScores(flag.Arg(0), *col)
	if err != nil {
		log.Fatalln("real file:", err)
	}
	bogus, ignoredBogus, err := readScores(flag.Arg(1), *col)
	if err != nil {
		log.Fatalln("bogus file:", err)
	}
	c := confusionAt(reals, bogus, threshold)

	// report statistics
	fmt.Println("\nReal file:         ", flag.Arg(0))
	fmt.Println("Bogus file:        ", flag.Arg(1))
	fmt.Println("Total objects:     ", c.total())
	if n := ignoredReal + ignoredBogus; n != 0 {
		fmt.Println("Lines ignored:     ", n)
	}
	fmt.Printf("Threshold:          %.*f\n", thresholdPrec, threshold)
	fmt.Println()
	fmt.Println("                    rbscore prediction")
	fmt.Println("                    -----------------------")
	fmt.Println("                         real         bogus")
	fmt.Printf("Actual real           %7d       %7d\n", c.tp, c.fn)
	fmt.Printf("Actual bogus          %7d       %7d\n", c.fp, c.tn)
	fmt.Println()
	fmt.Printf("Matthews correlation coefficient: %.2f\n", c.mcc())
	fmt.Printf("Missed detection rate:            %.3f\n", c.mdr())
	fmt.Printf("False positive rate:              %.3f\n", c.fpr())
	if t, fpr, ok := operatingPoint(reals, bogus, *mdr, 0.01); ok {
		fmt.Printf("\n%.1f%% MDR gives %.2f%% FPR at threshold %.3f\n",
			*mdr*100, fpr*100, t)
	}
}

// readScores reads the score column of each line of a score file,
// counting lines without a numeric score.  Fields are separated by
// commas or white space.
func readScores(fn string, col int) (scores []float64, ignored int, err error) {
	lines, err := candidates.ReadLines(fn)
	if err != nil {
		return nil, 0, err
	}
	for _, line := range lines {
		f := strings.FieldsFunc(line, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})
		if len(f) <= col {
			ignored++
			continue
		}
		s, err := strconv.ParseFloat(f[col], 64)
		if err != nil {
			ignored++
			continue
		}
		scores = append(scores, s)
	}
	return scores, ignored, nil
}

// confusion counts predictions against truth.  Real means the score is at
// or above the threshold.
type confusion struct {
	tp, fn, fp, tn int
}

func confusionAt(reals, bogus []float64, threshold float64) (c confusion) {
	for _, s := range reals {
		if s >= threshold {
			c.tp++
		} else {
			c.fn++
		}
	}
	for _, s := range bogus {
		if s >= threshold {
			c.fp++
		} else {
			c.tn++
		}
	}
	return
}

func (c confusion) total() int { return c.tp + c.fn + c.fp + c.tn }

func (c confusion) mcc() float64 {
	tpf := float64(c.tp)
	fnf := float64(c.fn)
	fpf := float64(c.fp)
	tnf := float64(c.tn)
	if d := (tpf + fpf) * (tpf + fnf) * (tnf + fpf) * (tnf + fnf); d > 0 {
		return (tpf*tnf - fpf*fnf) / math.Sqrt(d)
	}
	return 0
}

// mdr is the fraction of real objects scored bogus.
func (c confusion) mdr() float64 {
	if n := c.tp + c.fn; n > 0 {
		return float64(c.fn) / float64(n)
	}
	return 0
}

// fpr is the fraction of bogus objects scored real.
func (c confusion) fpr() float64 {
	if n := c.fp + c.tn; n > 0 {
		return float64(c.fp) / float64(n)
	}
	return 1
}

// operatingPoint steps the threshold up from zero and returns the highest
// threshold whose missed detection rate is still within mdr, with the
// false positive rate there.
func operatingPoint(reals, bogus []float64, mdr, step float64) (threshold, fpr float64, ok bool) {
	if len(reals) == 0 || step <= 0 {
		return 0, 0, false
	}
	for i := 0; float64(i)*step < 1; i++ {
		t := float64(i) * step
		c := confusionAt(reals, bogus, t)
		if c.mdr() <= mdr {
			threshold, fpr, ok = t, c.fpr(), true
		}
	}
	return
}
