// Public domain.

// Package store reads candidate objects and their images from the survey
// database and writes scores back.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/psat-ml/rbscore/internal/instrument"
	"github.com/psat-ml/rbscore/internal/rbconf"
	"github.com/psat-ml/rbscore/internal/rblog"
	"github.com/psat-ml/rbscore/internal/score"
)

// ErrNoRows is returned when an update matched no object.
var ErrNoRows = errors.New("no object rows updated")

// Options fixes the survey specific parts of the queries.
type Options struct {
	Survey    rbconf.Survey
	DBName    string // path component below ImageRoot
	ImageRoot string
	Table     string
	Column    string
}

// Store is a survey database connection.  Each process opens its own.
type Store struct {
	db  *sql.DB
	opt Options
	log *rblog.Logger
}

// DSN returns the driver data source name for d.
func DSN(d rbconf.Database) string {
	mc := mysql.NewConfig()
	mc.User = d.Username
	mc.Passwd = d.Password
	mc.DBName = d.Database
	mc.Net = "tcp"
	port := d.Port
	if port == 0 {
		port = 3306
	}
	host := d.Hostname
	if host == "" {
		host = "localhost"
	}
	mc.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	mc.ParseTime = true
	mc.Timeout = 30 * time.Second
	return mc.FormatDSN()
}

// Open connects to the database described by d.
func Open(ctx context.Context, d rbconf.Database, opt Options, log *rblog.Logger) (*Store, error) {
	db, err := sql.Open("mysql", DSN(d))
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, describe(err)
	}
	if opt.DBName == "" {
		opt.DBName = d.Database
	}
	return New(db, opt, log), nil
}

// New wraps an open database handle.
func New(db *sql.DB, opt Options, log *rblog.Logger) *Store {
	if log == nil {
		log = rblog.NoopLogger()
	}
	if opt.Table == "" || opt.Column == "" {
		t, c := opt.Survey.DefaultColumns()
		if opt.Table == "" {
			opt.Table = t
		}
		if opt.Column == "" {
			opt.Column = c
		}
	}
	return &Store{db: db, opt: opt, log: log}
}

// Close closes the connection.
func (s *Store) Close() error { return s.db.Close() }

// describe adds the server error number to MySQL errors.
func describe(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return fmt.Errorf("mysql error %d: %s: %w", me.Number, me.Message, err)
	}
	return err
}

func (s *Store) fail(ctx context.Context, op string, err error) error {
	err = describe(err)
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		s.log.ErrorContext(ctx, op+" failed", "code", me.Number, "message", me.Message)
	} else {
		s.log.ErrorContext(ctx, op+" failed", "error", err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

const (
	atlasObjects = `
select id
  from atlas_diff_objects
 where detection_list_id = ?
   and zooniverse_score is null`

	ps1Objects = `
select id
  from tcs_transient_objects
 where detection_list_id = ?
   and confidence_factor is null
   and tcs_images_id is not null
 order by followup_id desc`
)

// ObjectsByList returns the ids of unscored objects on detection list
// listID.
func (s *Store) ObjectsByList(ctx context.Context, listID int) ([]int64, error) {
	q := atlasObjects
	if s.opt.Survey == rbconf.PanSTARRS {
		q = ps1Objects
	}
	rows, err := s.db.QueryContext(ctx, q, int64(listID))
	if err != nil {
		return nil, s.fail(ctx, "object list query", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, s.fail(ctx, "object list query", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(ctx, "object list query", err)
	}
	return ids, nil
}

// Image directories are named by night.  Pan-STARRS nights come from
// the exposure MJD; ATLAS nights come from the exposure name except for
// skycell stamps.
const (
	ps1Images = `
select concat(?, ?, '/', truncate(mjd_obs, 0), '/', image_filename, '.fits') as filename, filter
  from tcs_postage_stamp_images
 where image_filename like concat(?, '%')
   and image_filename not like concat(?, '%4300000000%')
   and image_type = 'diff'
   and image_filename is not null
   and pss_error_code = 0
   and mjd_obs is not null`

	atlasImages = `
select concat(?, ?, '/', if(instr(pss_filename, 'skycell'), truncate(mjd_obs, 0), substr(pss_filename, 4, 5)), '/', image_filename, '.fits') as filename, filter
  from tcs_postage_stamp_images
 where image_filename like concat(?, '%')
   and image_filename not like concat(?, '%4300000000%')
   and image_type = 'diff'
   and image_filename is not null
   and pss_error_code = 0
   and mjd_obs is not null`
)

// Images returns the difference image records of object id.
func (s *Store) Images(ctx context.Context, id int64) ([]instrument.Record, error) {
	q := atlasImages
	if s.opt.Survey == rbconf.PanSTARRS {
		q = ps1Images
	}
	key := strconv.FormatInt(id, 10)
	rows, err := s.db.QueryContext(ctx, q, s.opt.ImageRoot, s.opt.DBName, key, key)
	if err != nil {
		return nil, s.fail(ctx, "image query", err)
	}
	defer rows.Close()
	var recs []instrument.Record
	for rows.Next() {
		var fn string
		var filter sql.NullString
		if err := rows.Scan(&fn, &filter); err != nil {
			return nil, s.fail(ctx, "image query", err)
		}
		recs = append(recs, instrument.Record{Path: fn, Filter: filter.String})
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(ctx, "image query", err)
	}
	return recs, nil
}

func (s *Store) updateStmt() (string, error) {
	if !rbconf.ValidIdentifier(s.opt.Table) {
		return "", fmt.Errorf("invalid table name %q", s.opt.Table)
	}
	if !rbconf.ValidIdentifier(s.opt.Column) {
		return "", fmt.Errorf("invalid column name %q", s.opt.Column)
	}
	return fmt.Sprintf("update `%s` set `%s` = ? where id = ?", s.opt.Table, s.opt.Column), nil
}

// UpdateScores writes every score in one transaction and returns the
// number of rows changed.  Scores matching no object are logged and
// skipped.  On error nothing is committed.
func (s *Store) UpdateScores(ctx context.Context, rs []score.Result) (int64, error) {
	if len(rs) == 0 {
		return 0, nil
	}
	stmt, err := s.updateStmt()
	if err != nil {
		return 0, err
	}
	ids := make([]int64, len(rs))
	for i, r := range rs {
		if ids[i], err = strconv.ParseInt(r.Object, 10, 64); err != nil {
			return 0, fmt.Errorf("object %q: not a database id", r.Object)
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, s.fail(ctx, "begin update", err)
	}
	var total int64
	for i, r := range rs {
		n, err := updateOne(ctx, tx, stmt, ids[i], r.Score)
		switch {
		case errors.Is(err, ErrNoRows):
			s.log.WarnContext(ctx, "no object rows updated", "object", ids[i])
		case err != nil:
			tx.Rollback()
			return 0, s.fail(ctx, "score update", err)
		}
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, s.fail(ctx, "commit update", err)
	}
	return total, nil
}

func updateOne(ctx context.Context, tx *sql.Tx, stmt string, id int64, v float64) (int64, error) {
	res, err := tx.ExecContext(ctx, stmt, v, id)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrNoRows
	}
	return n, nil
}
