/*
Command mcc computes Matthews correlation coefficient on rbscore results.

Matthews correlation coefficient is a statistic indicating how well
a classifier works.  Here, we are testing how well the real/bogus
classifiers separate real transients from bogus detections.  Compared to
similar statistics, MCC produces a meaningful measure even when the
relative number of objects in the classes is greatly different, as it is
for real and bogus detections.

	Usage: mcc [options] <real> <bogus> [threshold]
	  -c=1: column containing real/bogus score
	  -mdr=0.04: missed detection rate for the operating point
	  -v=false: display version and copyright

The command line arguments <real> and <bogus> are files of rbscore output.
Prepare these two files as follows:

 1. Collect candidates that have been eyeballed, so that you know which
    are real and which are bogus.

 2. Put the ids of the real candidates in one file and the bogus ones in
    another.

 3. Run rbscore on each file with -candidatesinfiles and a different
    -outputcsv for each.

The score column is the second, numbered 1 from 0.  Fields may be
separated by commas or white space.  Lines without a numeric score are
ignored and counted.

The threshold argument is optional and defaults to .5.  A candidate
scoring at or above the threshold is predicted real.  mcc shows the
confusion matrix, MCC, the missed detection rate and the false positive
rate at the threshold.

mcc also steps the threshold from 0 in steps of .01 and reports the
highest threshold keeping the missed detection rate within -mdr, with the
false positive rate there.  This is the operating point usually quoted for
a classifier, a false positive rate at a fixed missed detection rate.
*/
package main
