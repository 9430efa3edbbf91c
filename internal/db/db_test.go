package db

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"geomixtrail/internal/track"

	"github.com/pashagolub/pgxmock/v3"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func expectColumns(mock pgxmock.PgxPoolIface, table string, cols ...string) {
	rows := pgxmock.NewRows([]string{"column_name"})
	for _, c := range cols {
		rows.AddRow(c)
	}
	mock.ExpectQuery(`information_schema\.columns`).
		WithArgs("public", table, pgxmock.AnyArg()).
		WillReturnRows(rows)
}

func TestFetchSamples(t *testing.T) {
	mock := newMock(t)
	expectColumns(mock, "points", "coderoute", "latitude", "longitude", "date", "speed")
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "public"."points" ORDER BY "date"`)).
		WillReturnRows(pgxmock.NewRows([]string{"coderoute", "latitude", "longitude", "date", "speed"}).
			AddRow("R1", "48.0", "2.0", "2024-05-01 10:00:00", "12.5").
			AddRow("R1", "48.001", "2.0", "2024-05-01 10:00:10", "").
			AddRow("R2", "48.5", "2.5", "", "30"))

	got, err := FetchSamples(context.Background(), mock, Source{Table: "points", Columns: []string{"Speed"}})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("samples = %d", len(got))
	}
	if got[0].Route != "R1" || got[0].Lat != 48.0 || got[0].Lon != 2.0 || got[0].Line != 1 {
		t.Fatalf("unexpected first sample: %+v", got[0])
	}
	if got[0].Fields["Speed"] != "12.5" || got[1].Fields["Speed"] != "" {
		t.Fatalf("speed not copied: %v %v", got[0].Fields, got[1].Fields)
	}
	if got[2].Route != "R2" || got[2].Date != "" || got[2].Line != 3 {
		t.Fatalf("unexpected last sample: %+v", got[2])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}

	set, err := track.FromSamples(got, track.Options{MinPointDistanceMeters: 0})
	if err != nil {
		t.Fatal(err)
	}
	if set.Len() != 2 {
		t.Fatalf("routes = %d", set.Len())
	}
}

func TestFetchSamplesMissingColumns(t *testing.T) {
	mock := newMock(t)
	expectColumns(mock, "points", "coderoute", "latitude", "date")
	_, err := FetchSamples(context.Background(), mock, Source{Table: "points"})
	if !errors.Is(err, track.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if !strings.Contains(err.Error(), "longitude") {
		t.Fatalf("error does not name the missing column: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestFetchSamplesBadNumber(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon string
		column   string
		value    string
	}{
		{"not a number", "north", "2.0", track.ColumnLatitude, "north"},
		{"nan", "NaN", "2.0", track.ColumnLatitude, "NaN"},
		{"infinite", "48.0", "+Inf", track.ColumnLongitude, "+Inf"},
		{"latitude out of range", "1000", "2.0", track.ColumnLatitude, "1000"},
		{"longitude out of range", "48.0", "-181", track.ColumnLongitude, "-181"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			expectColumns(mock, "points", "coderoute", "latitude", "longitude", "date")
			mock.ExpectQuery(`SELECT`).
				WillReturnRows(pgxmock.NewRows([]string{"coderoute", "latitude", "longitude", "date"}).
					AddRow("R1", "48.0", "2.0", "d").
					AddRow("R1", tt.lat, tt.lon, "d"))

			_, err := FetchSamples(context.Background(), mock, Source{Table: "points"})
			var pe *track.ParseError
			if !errors.As(err, &pe) || !errors.Is(err, track.ErrParse) {
				t.Fatalf("expected ParseError, got %v", err)
			}
			if pe.Line != 2 || pe.Column != tt.column || pe.Value != tt.value {
				t.Fatalf("unexpected parse error: %+v", pe)
			}
		})
	}
}

func TestFetchSamplesQueryError(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`information_schema\.columns`).WillReturnError(errors.New("connection reset"))
	if _, err := FetchSamples(context.Background(), mock, Source{Table: "points"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestFetchSamplesNoTable(t *testing.T) {
	if _, err := FetchSamples(context.Background(), newMock(t), Source{}); !errors.Is(err, track.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSelectSamplesQuotesIdentifiers(t *testing.T) {
	q := selectSamples(Source{Schema: "gps", Table: `pts"; drop`, Columns: []string{"Speed"}, OrderBy: "ts"})
	for _, want := range []string{`"gps"."pts""; drop"`, `COALESCE("speed"::text, '')`, `ORDER BY "ts"`} {
		if !strings.Contains(q, want) {
			t.Fatalf("query %q missing %q", q, want)
		}
	}
}

func TestWithDBName(t *testing.T) {
	cases := []struct {
		dsn, db, want string
	}{
		{"postgres://u:p@localhost:5432/postgres?sslmode=disable", "tracks", "postgres://u:p@localhost:5432/tracks?sslmode=disable"},
		{"u@localhost/old", "new", "postgres://u@localhost/new"},
		{"host=localhost dbname=old user=u", "new", "host=localhost dbname=new user=u"},
		{"host=localhost user=u", "my db", "host=localhost user=u dbname='my db'"},
		{"dbname=old", "new", "dbname=new"},
		{"postgres://localhost/a", "", "postgres://localhost/a"},
	}
	for _, c := range cases {
		got, err := WithDBName(c.dsn, c.db)
		if err != nil {
			t.Fatalf("%s: %v", c.dsn, err)
		}
		if got != c.want {
			t.Fatalf("WithDBName(%q, %q) = %q, want %q", c.dsn, c.db, got, c.want)
		}
	}
	if _, err := WithDBName("", "x"); err == nil {
		t.Fatal("expected error for empty DSN")
	}
	if _, err := WithDBName("mysql://localhost/a", "x"); err == nil {
		t.Fatal("expected error for foreign scheme")
	}
}
