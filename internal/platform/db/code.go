package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// LastCode returns the highest value of column in table that starts with
// prefix, comparing by length first so "A1000" sorts after "A999". It
// returns "" when no row matches.
func LastCode(ctx context.Context, q Querier, table, column, prefix string) (string, error) {
	if !tenantIDPattern.MatchString(table) || !tenantIDPattern.MatchString(column) {
		return "", fmt.Errorf("invalid identifier: %s.%s", table, column)
	}
	var last string
	err := q.QueryRow(ctx, fmt.Sprintf(`
		SELECT %[2]s FROM %[1]s
		WHERE %[2]s LIKE $1 || '%%'
		ORDER BY length(%[2]s) DESC, %[2]s DESC
		LIMIT 1`, table, column), prefix).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return last, err
}
