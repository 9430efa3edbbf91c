package db

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var dbnameKV = regexp.MustCompile(`(^|\s)dbname=('[^']*'|\S*)`)

// WithDBName returns dsn with its database replaced. Both URL DSNs
// (postgres://, postgresql:// or no scheme) and keyword/value DSNs
// ("host=... dbname=...") are accepted.
func WithDBName(dsn, database string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", fmt.Errorf("empty DSN")
	}
	if database == "" {
		return dsn, nil
	}
	if !strings.Contains(dsn, "://") && strings.Contains(dsn, "=") {
		kv := "dbname=" + quoteKV(database)
		if dbnameKV.MatchString(dsn) {
			return dbnameKV.ReplaceAllStringFunc(dsn, func(m string) string {
				if strings.HasPrefix(m, " ") || strings.HasPrefix(m, "\t") {
					return m[:1] + kv
				}
				return kv
			}), nil
		}
		return dsn + " " + kv, nil
	}
	if !strings.Contains(dsn, "://") {
		dsn = "postgres://" + dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("unsupported DSN scheme %q", u.Scheme)
	}
	u.Path = "/" + strings.TrimPrefix(database, "/")
	return u.String(), nil
}

func quoteKV(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}
