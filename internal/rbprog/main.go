// Public domain.

package rbprog

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/soniakeys/exit"

	"github.com/psat-ml/rbscore/internal/instrument"
	"github.com/psat-ml/rbscore/internal/rbconf"
)

const versionString = "rbscore version 1.0 Go source."
const copyrightString = "Public domain."

func Main() {
	defer exit.Handler()

	cl := parseCommandLine(os.Args[1:])
	switch {
	case cl.worker:
		runWorker()
	case cl.images:
		runImages(cl)
	default:
		runDatabase(cl)
	}
}

type commandLine struct {
	cfg               rbconf.Config
	configFile        string
	args              []string // candidates or images
	candidatesInFiles bool
	images            bool
	classifier        string // image mode
	worker            bool
}

// classifierFlags maps instrument tags to their command line flags.
func classifierFlags() []string {
	return append(instrument.ATLAS.Tags(), instrument.PanSTARRS.Tags()...)
}

func parseCommandLine(args []string) *commandLine {
	fs := flag.NewFlagSet("rbscore", flag.ExitOnError)
	cl := commandLine{cfg: rbconf.Default()}
	c := &cl.cfg

	dh := fs.Bool("h", false, "")
	dv := fs.Bool("v", false, "")
	paths := map[string]*string{}
	for _, tag := range classifierFlags() {
		paths[tag] = fs.String(tag+"classifier", "", "")
	}
	magic := fs.String("magicnumber", "", "")
	fs.StringVar(&c.OutputCSV, "outputcsv", "", "")
	fs.IntVar(&c.ListID, "listid", c.ListID, "")
	fs.StringVar(&c.ImageRoot, "imageroot", c.ImageRoot, "")
	fs.BoolVar(&c.Update, "update", false, "")
	fs.StringVar(&c.TableName, "tablename", "", "")
	fs.StringVar(&c.ColumnName, "columnname", "", "")
	fs.IntVar(&c.Workers, "workers", c.Workers, "")
	fs.IntVar(&c.Batches, "batches", c.Batches, "")
	fs.IntVar(&c.BatchThreshold, "batchthreshold", c.BatchThreshold, "")
	fs.BoolVar(&c.PreserveOrder, "preserveorder", false, "")
	fs.BoolVar(&c.WorkerCSV, "workercsv", false, "")
	fs.StringVar(&c.LogLocation, "loglocation", c.LogLocation, "")
	fs.StringVar(&c.LogPrefix, "logprefix", c.LogPrefix, "")
	fs.StringVar(&c.MetricsFile, "metricsfile", "", "")
	fs.BoolVar(&c.Verbose, "verbose", false, "")
	fs.BoolVar(&cl.candidatesInFiles, "candidatesinfiles", false, "")
	fs.BoolVar(&cl.images, "images", false, "")
	fs.StringVar(&cl.classifier, "classifier", "", "")
	fs.IntVar(&c.Extension, "fitsextension", 0, "")
	fs.BoolVar(&c.KeepFilename, "keepfilename", false, "")
	fs.BoolVar(&cl.worker, "worker", false, "")
	fs.Usage = func() {
		os.Stderr.WriteString(`
Usage: rbscore [options] <config-file> [candidate...]   score candidates
       rbscore -images -classifier <model> [options] <image>...
       rbscore -h                                      display help
       rbscore -v                                      display version and copyright

Options:
       -hkoclassifier -mloclassifier -sthclassifier -chlclassifier <model>
       -ps1classifier -ps2classifier <model>
       -listid <n>                 (default 4)
       -candidatesinfiles
       -imageroot <dir>            (default /db4/images/)
       -magicnumber <n>
       -outputcsv <file>           (default ` + rbconf.DefaultOutputCSV + `)
       -update
       -tablename <name>
       -columnname <name>
       -workers <n>                (default 28)
       -batches <n>                (default 16)
       -batchthreshold <n>         (default 100)
       -preserveorder
       -workercsv
       -loglocation <dir>          (default /tmp/)
       -logprefix <prefix>         (default ml_keras_)
       -metricsfile <file>
       -verbose
       -fitsextension <n>          (image mode, default 0)
       -keepfilename               (image mode)
`)
	}
	fs.Parse(args)

	switch {
	case cl.worker:
		return &cl
	case *dh:
		printHelp()
		os.Exit(0)
	case *dv:
		fmt.Println(versionString)
		fmt.Println(copyrightString)
		os.Exit(0)
	case fs.NArg() < 1:
		fs.Usage()
		os.Exit(1)
	}

	if *magic != "" {
		m, err := strconv.Atoi(*magic)
		if err != nil {
			exit.Log("Magic number must be an integer: " + *magic)
		}
		c.Magic = &m
	}
	set := map[string]string{}
	for tag, p := range paths {
		set[tag] = *p
	}
	c.SetClassifiers(set)

	if cl.images {
		cl.args = fs.Args()
		return &cl
	}
	if c.OutputCSV == "" {
		c.OutputCSV = rbconf.DefaultOutputCSV
	}
	cl.configFile = fs.Arg(0)
	cl.args = fs.Args()[1:]
	return &cl
}

func printHelp() {
	fmt.Println(`
Rbscore runs the real/bogus image classifiers over transient candidates.
Images of each candidate are routed to the classifier of the telescope or
camera that took them, and the scores of the instrument that imaged the
candidate most are reduced to their median.  Scores are written to a CSV
file, lowest first, and optionally to the survey database.

Config file keys:
   databases.local.hostname
   databases.local.port
   databases.local.username
   databases.local.password
   databases.local.database
   images.source         local, minio or s3
   images.endpoint
   images.bucket
   images.prefix
   images.access_key
   images.secret_key
   images.region
   images.secure
   images.requests_per_second

Instruments:`)
	for _, t := range []instrument.Table{instrument.ATLAS, instrument.PanSTARRS} {
		for _, in := range t {
			fmt.Printf("   %3s   %s\n", in.Tag, in.Heading)
		}
	}
	fmt.Println(`
For full documentation:
   go doc github.com/psat-ml/rbscore`)
}
