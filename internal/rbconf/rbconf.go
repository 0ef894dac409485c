// Public domain.

// Package rbconf holds the typed configuration of a scoring run.
//
// A Config is built once from the command line and the YAML
// configuration file, validated, and then passed by value to everything
// that needs it, including worker processes.
package rbconf

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/psat-ml/rbscore/internal/instrument"
)

// ErrListID is returned for detection list ids outside MinListID..MaxListID.
var ErrListID = errors.New("detection list id out of range")

// Detection list id range and default.
const (
	MinListID     = 0
	MaxListID     = 8
	DefaultListID = 4
)

// DefaultOutputCSV is the score file written in database mode when none
// is named.
const DefaultOutputCSV = "/tmp/update_eyeball_scores.csv"

// Survey selects the instrument table and default store columns.
type Survey int

const (
	ATLAS Survey = iota
	PanSTARRS
)

func (s Survey) String() string {
	if s == PanSTARRS {
		return "Pan-STARRS"
	}
	return "ATLAS"
}

// Table returns the survey's instrument table.
func (s Survey) Table() instrument.Table {
	if s == PanSTARRS {
		return instrument.PanSTARRS
	}
	return instrument.ATLAS
}

// DefaultColumns returns the table and column updated by default.
func (s Survey) DefaultColumns() (table, column string) {
	if s == PanSTARRS {
		return "tcs_transient_objects", "confidence_factor"
	}
	return "atlas_diff_objects", "zooniverse_score"
}

// Database is the connection block of the configuration file.
type Database struct {
	Hostname string `yaml:"hostname"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// Images selects where image files are read from.  Source is one of
// local (the default), minio or s3.
type Images struct {
	Source            string  `yaml:"source"`
	Endpoint          string  `yaml:"endpoint"`
	Bucket            string  `yaml:"bucket"`
	Prefix            string  `yaml:"prefix"`
	AccessKey         string  `yaml:"access_key"`
	SecretKey         string  `yaml:"secret_key"`
	Region            string  `yaml:"region"`
	Secure            bool    `yaml:"secure"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// File is the layout of the YAML configuration file.
type File struct {
	Databases struct {
		Local Database `yaml:"local"`
	} `yaml:"databases"`
	Images Images `yaml:"images"`
}

// Load reads a YAML configuration file.
func Load(fn string) (File, error) {
	var f File
	b, err := os.ReadFile(fn)
	if err != nil {
		return f, err
	}
	if err := yaml.Unmarshal(b, &f); err != nil {
		return f, fmt.Errorf("%s: %w", fn, err)
	}
	return f, nil
}

// Config is the complete configuration of one invocation.
type Config struct {
	Database Database
	Images   Images
	Survey   Survey

	// instrument tag to model file
	Classifiers map[string]string

	ListID     int
	ImageRoot  string
	Update     bool
	TableName  string
	ColumnName string
	Magic      *int

	OutputCSV      string
	WorkerCSV      bool
	Workers        int
	Batches        int
	BatchThreshold int
	PreserveOrder  bool

	LogLocation string
	LogPrefix   string
	MetricsFile string
	Verbose     bool

	// image mode
	Extension    int
	KeepFilename bool
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		Survey:         ATLAS,
		Classifiers:    map[string]string{},
		ListID:         DefaultListID,
		ImageRoot:      "/db4/images/",
		Workers:        28,
		Batches:        16,
		BatchThreshold: 100,
		LogLocation:    "/tmp/",
		LogPrefix:      "ml_keras_",
	}
}

// SetClassifiers records the classifier paths given per tag, ignoring
// empty ones, and picks the survey: any Pan-STARRS classifier selects
// Pan-STARRS and drops the ATLAS ones.  Store columns left empty get the
// survey defaults.
func (c *Config) SetClassifiers(paths map[string]string) {
	c.Classifiers = map[string]string{}
	c.Survey = ATLAS
	for _, in := range instrument.PanSTARRS {
		if paths[in.Tag] != "" {
			c.Survey = PanSTARRS
			break
		}
	}
	for _, in := range c.Survey.Table() {
		if p := paths[in.Tag]; p != "" {
			c.Classifiers[in.Tag] = p
		}
	}
	t, col := c.Survey.DefaultColumns()
	if c.TableName == "" {
		c.TableName = t
	}
	if c.ColumnName == "" {
		c.ColumnName = col
	}
}

// Table is the instrument table of the configured survey.
func (c Config) Table() instrument.Table { return c.Survey.Table() }

// ClassifierTags returns the tags with a classifier, sorted.
func (c Config) ClassifierTags() []string {
	tags := make([]string, 0, len(c.Classifiers))
	for t := range c.Classifiers {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

var identRx = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// ValidIdentifier reports whether s can be used unquoted as a table or
// column name.
func ValidIdentifier(s string) bool { return len(s) <= 64 && identRx.MatchString(s) }

// Validate reports the first configuration error found.
func (c Config) Validate() error {
	if c.ListID < MinListID || c.ListID > MaxListID {
		return fmt.Errorf("%w: %d not in %d..%d", ErrListID, c.ListID, MinListID, MaxListID)
	}
	if c.Update || c.TableName != "" {
		if !ValidIdentifier(c.TableName) {
			return fmt.Errorf("invalid table name %q", c.TableName)
		}
	}
	if c.Update || c.ColumnName != "" {
		if !ValidIdentifier(c.ColumnName) {
			return fmt.Errorf("invalid column name %q", c.ColumnName)
		}
	}
	if c.Workers <= 0 {
		return fmt.Errorf("worker count must be positive, got %d", c.Workers)
	}
	if c.Batches <= 0 {
		return fmt.Errorf("batch count must be positive, got %d", c.Batches)
	}
	for _, tag := range c.ClassifierTags() {
		if _, ok := c.Table().Lookup(tag); !ok {
			return fmt.Errorf("classifier given for unknown instrument %q", tag)
		}
		if _, err := os.Stat(c.Classifiers[tag]); err != nil {
			return fmt.Errorf("%s classifier: %w", tag, err)
		}
	}
	switch c.Images.Source {
	case "", "local":
	case "minio", "s3":
		if c.Images.Bucket == "" {
			return fmt.Errorf("%s image source needs a bucket", c.Images.Source)
		}
	default:
		return fmt.Errorf("unknown image source %q", c.Images.Source)
	}
	return nil
}
