/*
Command rbscore runs convolutional real/bogus classifiers over transient
candidates and reduces the per-image scores to one score per candidate.

Version 1.0

Contents:

  - Program overview
  - Command line usage
  - Config file
  - Instruments
  - Scoring
  - Parallel runs
  - Output

# Program overview

Surveys such as ATLAS and Pan-STARRS find transient candidates by image
differencing.  Most detections are bogus: subtraction residuals, cosmic
rays, ghosts, bad columns.  A small convolutional network looks at a
20x20 pixel cutout centred on each detection and outputs the probability
that it is real.

A candidate usually has several difference images, taken by several
telescopes or cameras.  A network is trained per instrument, so rbscore
routes each image to the classifier of the instrument that took it,
classifies each instrument's images in one batch and then picks, per
candidate, the instrument with the most images.  The final score is the
median of that instrument's scores.

Candidates come from the survey database, either from an object list or
as ids on the command line or in files.  Image paths come from the same
database.  Scores are written to a CSV file and, with -update, back to
the database.

# Command line usage

	Usage: rbscore [options] <config-file> [candidate...]   score candidates
	       rbscore -images -classifier <model> [options] <image>...
	       rbscore -h                                      display help
	       rbscore -v                                      display version and copyright

Classifier options name the trained network for each instrument:

	-hkoclassifier -mloclassifier -sthclassifier -chlclassifier   ATLAS
	-ps1classifier -ps2classifier                                 Pan-STARRS

Naming any Pan-STARRS classifier selects the Pan-STARRS survey; otherwise
the ATLAS survey is used.  Only instruments with a classifier are scored.
If images are found for an instrument without a classifier the run stops
before anything is scored or written.

	-listid n              object list to score when no candidates are given (0-8, default 4)
	-candidatesinfiles     candidate arguments are files of ids, one per line
	-imageroot dir         root of the image tree (default /db4/images/)
	-magicnumber n         pixel value marking masked pixels
	-outputcsv file        output file (default /tmp/update_eyeball_scores.csv)
	-update                write scores to the database
	-tablename name        table to update (default per survey)
	-columnname name       column to update (default per survey)
	-workers n             worker processes per batch (default 28)
	-batches n             batches for long candidate lists (default 16)
	-batchthreshold n      list length above which batching starts (default 100)
	-preserveorder         give workers contiguous runs of candidates
	-workercsv             workers also write their own CSV files
	-loglocation dir       directory for worker logs (default /tmp/)
	-logprefix prefix      worker log file prefix (default ml_keras_)
	-metricsfile file      write run counters in Prometheus text format
	-verbose               debug logging

Files ending .gz, .zst or .lz4 are compressed or decompressed
transparently, for candidate files, classifier files and output.

In image mode, the arguments are FITS image paths scored with the single
network given by -classifier.  The object key of an image is its base name
up to the first dot, or the whole base name with -keepfilename.
-fitsextension selects the HDU holding the image.  Scores go to stdout
unless -outputcsv is given.

# Config file

The config file is YAML:

	databases:
	  local:
	    hostname: db.example.org
	    port: 3306
	    username: reader
	    password: secret
	    database: atlas
	images:
	  source: local          # local, minio or s3
	  endpoint: ""
	  bucket: ""
	  prefix: ""
	  access_key: ""
	  secret_key: ""
	  region: ""
	  secure: false
	  requests_per_second: 0

With a minio or s3 image source, image paths are read as object keys
under the prefix instead of from the local file system.  A positive
requests_per_second limits the rate of image reads.

# Instruments

ATLAS images are assigned by the camera code in the file name: 02a is
Haleakala (hko), 01a Mauna Loa (mlo), 03a Sutherland (sth) and 04a El
Sacramento (chl).  When -magicnumber is given, pixels of ATLAS images
equal to it are treated as masked.

Pan-STARRS images are assigned by the filter column: values starting
00000 are PS1, 00002 PS2.  Images are read from FITS extension 1 and are
never masked.

Images matching no instrument are counted and ignored.

# Scoring

A 20x20 cutout is taken around the image centre and scaled by the largest
absolute pixel value, keeping sign.  NaN, infinite and masked pixels are
set to zero.  Unreadable images score as blank cutouts and are counted.

For each candidate, the instrument with the most images wins, ties going
to the alphabetically first instrument tag.  The median of the winning
instrument's scores is the candidate's score.  Candidates with no images
get no score.

# Parallel runs

Candidate ids are split round robin over the workers, or into contiguous
runs with -preserveorder.  Each worker is a child rbscore process with its
own database connection and log file.  Results are collected in worker
order, so output does not depend on timing.  If any worker fails the
remaining workers are cancelled and the run fails.

Lists longer than -batchthreshold are first split into -batches batches,
each scored by a full set of workers.  With -update the database is
updated once, in one transaction, after every batch has succeeded and
the output file is written.  A failed batch leaves the database as it was.

# Output

The output file holds one line per scored candidate, id and score
separated by a comma, sorted by increasing score.  Ties keep input order.

The mcc command in this repository reports classifier statistics from
output files of known real and known bogus candidates.

-------------
Public domain.
*/
package main
