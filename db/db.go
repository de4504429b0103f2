// Package db provides the database component of the metasync project.
//
// Although the current database backend is sqlite to allow for simple
// single-binary deployment, the database is not considered a simple storage
// layer. Each query below is held in an sql file in the `sql` directory,
// which can be run on the sqlite command line. (For some queries it is
// advisable to run the sql in a transaction, so that the results can be
// rolled back.)
//
// The use of external, runnable sql files also as Go prepared statements is
// made possible through a parameterization scheme, as set out in
// parameterize.go.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx" // helper library
	_ "modernc.org/sqlite"    // pure go sqlite driver
)

//go:embed sql
var SQLEmbeddedFS embed.FS

// SQLMount returns the embedded sql directory mounted at its root, for
// callers who do not provide their own on-disk sql directory.
func SQLMount() (fs.FS, error) {
	return fs.Sub(SQLEmbeddedFS, "sql")
}

// parameterizedStmt describes an sql file parsed into an sqlx NamedStmt
// expecting the provided args.
type parameterizedStmt struct {
	sqlFile string
	args    []string
	*sqlx.NamedStmt
}

// verifyArgs determines if the number of arguments provided to a
// parameterizedStmt is as expected. This check could be more thorough.
func (p *parameterizedStmt) verifyArgs(args map[string]any) error {
	if got, want := len(args), len(p.args); got != want {
		return fmt.Errorf(
			"argument length to named statement from %q incorrect: got %d want %d",
			p.sqlFile,
			got,
			want,
		)
	}
	return nil
}

// DB provides a wrapper around the sql.DB connection for application-specific
// db operations.
type DB struct {
	*sqlx.DB
	sqlFS  fs.FS
	logger *slog.Logger

	// Prepared statements.
	settingGetStmt       *parameterizedStmt
	settingUpsertStmt    *parameterizedStmt
	pageLinkGetStmt      *parameterizedStmt
	projectClientGetStmt *parameterizedStmt

	accountGetStmt           *parameterizedStmt
	accountUpsertStmt        *parameterizedStmt
	accountSummaryUpdateStmt *parameterizedStmt

	postGetStmt           *parameterizedStmt
	postRowStmt           *parameterizedStmt
	postUpsertStmt        *parameterizedStmt
	postsGetStmt          *parameterizedStmt
	postMetricsGetStmt    *parameterizedStmt
	postMetricsUpsertStmt *parameterizedStmt
	postMetricsRowsStmt   *parameterizedStmt

	pageInsightsUpsertStmt *parameterizedStmt
	pageInsightsGetStmt    *parameterizedStmt
	netGrowthSinceStmt     *parameterizedStmt
	demographicsUpsertStmt *parameterizedStmt
}

// NewConnection creates a new connection to an SQLite database at the given
// path, initialises the schema (which is idempotent) and prepares the named
// statements. The sqlDir holds the sql files listed in schema.go; pass the
// result of SQLMount to use the embedded copies.
func NewConnection(dbPath string, sqlDir fs.FS, logger *slog.Logger) (*DB, error) {

	if logger == nil {
		logger = slog.Default()
	}

	// dataSource is the default setting for file-based databases.
	dataSource := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", dbPath)

	// for in-memory test databases, check the necessary cached setting is used.
	if strings.Contains(dbPath, ":memory:") || strings.Contains(dbPath, "mode=memory") {
		if !strings.Contains(dbPath, "cache=shared") {
			return nil, fmt.Errorf("in-memory connection %q should contain '?cache=shared'", dbPath)
		}
		dataSource = dbPath
	}
	dbDB, err := sql.Open("sqlite", dataSource)
	if err != nil {
		return nil, err
	}

	if err := dbDB.Ping(); err != nil {
		return nil, err
	}

	// Wrap the standard library *sql.DB with sqlx.
	db := &DB{
		DB:     sqlx.NewDb(dbDB, "sqlite"),
		sqlFS:  sqlDir,
		logger: logger,
	}

	// The schema must be in place before the named statements can be
	// prepared against it.
	if err := db.InitSchema(sqlDir, schemaSQL); err != nil {
		return nil, err
	}
	if err := db.prepareNamedStatements(); err != nil {
		return nil, fmt.Errorf("could not prepare named statements: %w", err)
	}

	return db, nil
}

// prepareNamedStatements prepares all the named statements for this database
// connection.
func (db *DB) prepareNamedStatements() error {
	var err error

	// Settings, page links and projects.
	db.settingGetStmt, err = db.prepNamedStatement(db.sqlFS, settingGetSQL)
	if err != nil {
		return fmt.Errorf("setting get statement error: %w", err)
	}
	db.settingUpsertStmt, err = db.prepNamedStatement(db.sqlFS, settingUpsertSQL)
	if err != nil {
		return fmt.Errorf("setting upsert statement error: %w", err)
	}
	db.pageLinkGetStmt, err = db.prepNamedStatement(db.sqlFS, pageLinkGetSQL)
	if err != nil {
		return fmt.Errorf("page link get statement error: %w", err)
	}
	db.projectClientGetStmt, err = db.prepNamedStatement(db.sqlFS, projectClientGetSQL)
	if err != nil {
		return fmt.Errorf("project client get statement error: %w", err)
	}

	// Accounts.
	db.accountGetStmt, err = db.prepNamedStatement(db.sqlFS, accountGetSQL)
	if err != nil {
		return fmt.Errorf("account get statement error: %w", err)
	}
	db.accountUpsertStmt, err = db.prepNamedStatement(db.sqlFS, accountUpsertSQL)
	if err != nil {
		return fmt.Errorf("account upsert statement error: %w", err)
	}
	db.accountSummaryUpdateStmt, err = db.prepNamedStatement(db.sqlFS, accountSummaryUpdateSQL)
	if err != nil {
		return fmt.Errorf("account summary update statement error: %w", err)
	}

	// Posts.
	db.postGetStmt, err = db.prepNamedStatement(db.sqlFS, postGetSQL)
	if err != nil {
		return fmt.Errorf("post get statement error: %w", err)
	}
	db.postRowStmt, err = db.prepNamedStatement(db.sqlFS, postRowSQL)
	if err != nil {
		return fmt.Errorf("post row statement error: %w", err)
	}
	db.postUpsertStmt, err = db.prepNamedStatement(db.sqlFS, postUpsertSQL)
	if err != nil {
		return fmt.Errorf("post upsert statement error: %w", err)
	}
	db.postsGetStmt, err = db.prepNamedStatement(db.sqlFS, postsSQL)
	if err != nil {
		return fmt.Errorf("get posts statement error: %w", err)
	}

	// Post metrics.
	db.postMetricsGetStmt, err = db.prepNamedStatement(db.sqlFS, postMetricsGetSQL)
	if err != nil {
		return fmt.Errorf("post metrics get statement error: %w", err)
	}
	db.postMetricsUpsertStmt, err = db.prepNamedStatement(db.sqlFS, postMetricsUpsertSQL)
	if err != nil {
		return fmt.Errorf("post metrics upsert statement error: %w", err)
	}
	db.postMetricsRowsStmt, err = db.prepNamedStatement(db.sqlFS, postMetricsRowsSQL)
	if err != nil {
		return fmt.Errorf("post metrics rows statement error: %w", err)
	}

	// Page insights and demographics.
	db.pageInsightsUpsertStmt, err = db.prepNamedStatement(db.sqlFS, pageInsightsUpsertSQL)
	if err != nil {
		return fmt.Errorf("page insights upsert statement error: %w", err)
	}
	db.pageInsightsGetStmt, err = db.prepNamedStatement(db.sqlFS, pageInsightsSQL)
	if err != nil {
		return fmt.Errorf("get page insights statement error: %w", err)
	}
	db.netGrowthSinceStmt, err = db.prepNamedStatement(db.sqlFS, netGrowthSinceSQL)
	if err != nil {
		return fmt.Errorf("net growth since statement error: %w", err)
	}
	db.demographicsUpsertStmt, err = db.prepNamedStatement(db.sqlFS, demographicsUpsertSQL)
	if err != nil {
		return fmt.Errorf("demographics upsert statement error: %w", err)
	}

	return nil
}

// prepNamedStatement prepares the SQL queries.
func (db *DB) prepNamedStatement(fileFS fs.FS, filePath string) (*parameterizedStmt, error) {
	query, err := ParameterizeFile(fileFS, filePath)
	if err != nil {
		return nil, fmt.Errorf("could not parameterize %q: %w", filePath, err)
	}

	pQuery, err := db.PrepareNamed(string(query.Body))
	if err != nil {
		return nil, fmt.Errorf("could not prepare statement %q: %w", filePath, err)
	}
	return &parameterizedStmt{
		filePath,
		query.Parameters,
		pQuery,
	}, nil
}

// InitSchema creates the necessary tables if they don't already exist. The
// schema file can be run idempotently.
func (db *DB) InitSchema(fileFS fs.FS, filePath string) error {

	schema, err := fs.ReadFile(fileFS, filePath)
	if err != nil {
		return fmt.Errorf("could not read schema file at %q: %w", filePath, err)
	}

	_, err = db.ExecContext(context.Background(), string(schema))
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// logQuery is for helping debug SQL issues.
func (db *DB) logQuery(name string, stmt *parameterizedStmt, args map[string]any, err error) {
	const debug = false
	if !debug {
		return
	}
	db.logger.Debug(
		"sql",
		"name", name,
		"query", stmt.QueryString,
		"args", fmt.Sprintf("%#v", args),
		"error", err,
	)
}
