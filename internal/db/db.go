package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"geomixtrail/internal/track"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of *pgxpool.Pool used here. Tests pass a pgxmock pool.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MaxConnLifetime = 30 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := Ping(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func Ping(ctx context.Context, pool *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Source names the table holding raw samples. Columns are extra columns copied
// into Sample.Fields, e.g. Speed for category coloring.
type Source struct {
	Schema  string
	Table   string
	Columns []string
	OrderBy string
}

var sampleColumns = []string{"coderoute", "latitude", "longitude", "date"}

func (s Source) withDefaults() Source {
	if s.Schema == "" {
		s.Schema = "public"
	}
	if s.OrderBy == "" {
		s.OrderBy = "date"
	}
	return s
}

// FetchSamples reads every row of the source table in OrderBy order. Values are
// read as text and parsed the same way as CSV cells, so a bad value reports the
// row number and column.
func FetchSamples(ctx context.Context, q Querier, src Source) ([]track.Sample, error) {
	src = src.withDefaults()
	if strings.TrimSpace(src.Table) == "" {
		return nil, fmt.Errorf("%w: no table given", track.ErrInvalidInput)
	}

	want := append(append([]string{}, sampleColumns...), src.Columns...)
	want = append(want, src.OrderBy)
	present, err := hasColumns(ctx, q, src.Schema, src.Table, want...)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, c := range want {
		if !present[strings.ToLower(c)] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: table %s.%s is missing columns %s",
			track.ErrInvalidInput, src.Schema, src.Table, strings.Join(dedupe(missing), ", "))
	}

	rows, err := q.Query(ctx, selectSamples(src))
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var out []track.Sample
	n := len(sampleColumns) + len(src.Columns)
	for line := 1; rows.Next(); line++ {
		vals := make([]string, n)
		dest := make([]any, n)
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row %d: %w", line, err)
		}
		s, err := toSample(vals, src.Columns, line)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read samples: %w", err)
	}
	return out, nil
}

func selectSamples(src Source) string {
	cols := make([]string, 0, len(sampleColumns)+len(src.Columns))
	for _, c := range append(append([]string{}, sampleColumns...), src.Columns...) {
		cols = append(cols, fmt.Sprintf("COALESCE(%s::text, '')", pgx.Identifier{strings.ToLower(c)}.Sanitize()))
	}
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		strings.Join(cols, ", "),
		pgx.Identifier{src.Schema, src.Table}.Sanitize(),
		pgx.Identifier{strings.ToLower(src.OrderBy)}.Sanitize())
}

func toSample(vals, extra []string, line int) (track.Sample, error) {
	s := track.Sample{
		Route: vals[0],
		Date:  vals[3],
		Line:  line,
		Fields: map[string]string{
			track.ColumnRoute:     vals[0],
			track.ColumnLatitude:  vals[1],
			track.ColumnLongitude: vals[2],
			track.ColumnDate:      vals[3],
		},
	}
	var err error
	if s.Lat, err = track.ParseCoordinate(vals[1], line, track.ColumnLatitude, track.MaxLatitude); err != nil {
		return s, err
	}
	if s.Lon, err = track.ParseCoordinate(vals[2], line, track.ColumnLongitude, track.MaxLongitude); err != nil {
		return s, err
	}
	for i, c := range extra {
		s.Fields[c] = vals[len(sampleColumns)+i]
	}
	return s, nil
}

// hasColumns reports which of cols exist on schema.table. Postgres folds
// unquoted names to lower case, so lookups are lower-cased too.
func hasColumns(ctx context.Context, q Querier, schema, table string, cols ...string) (map[string]bool, error) {
	lower := make([]string, len(cols))
	for i, c := range cols {
		lower[i] = strings.ToLower(c)
	}
	rows, err := q.Query(ctx, `
SELECT column_name FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2 AND column_name = ANY($3)`, schema, table, lower)
	if err != nil {
		return nil, fmt.Errorf("inspect %s.%s: %w", schema, table, err)
	}
	defer rows.Close()
	present := make(map[string]bool, len(cols))
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		present[name] = true
	}
	return present, rows.Err()
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
