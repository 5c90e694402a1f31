package db

import (
	"context"
	"fmt"
)

// Capabilities lists optional modules whose tables may be absent from a
// deployment. It is resolved once at startup and handed to the services.
type Capabilities struct {
	Emergency bool `json:"emergency"`
}

// optionalTables maps each optional module to the table that marks it as installed.
var optionalTables = map[string]string{
	"emergency": "er_visit",
}

// TableExists reports whether schema.table is visible to the connection.
func TableExists(ctx context.Context, q Querier, schema, table string) (bool, error) {
	if !tenantIDPattern.MatchString(table) {
		return false, fmt.Errorf("invalid table name: %s", table)
	}
	name := table
	if schema != "" {
		if !tenantIDPattern.MatchString(schema) {
			return false, fmt.Errorf("invalid schema name: %s", schema)
		}
		name = schema + "." + table
	}
	var exists bool
	if err := q.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("probe table %s: %w", name, err)
	}
	return exists, nil
}

// ProbeCapabilities detects installed optional modules in the given schema.
func ProbeCapabilities(ctx context.Context, q Querier, schema string) (Capabilities, error) {
	var caps Capabilities
	ok, err := TableExists(ctx, q, schema, optionalTables["emergency"])
	if err != nil {
		return caps, err
	}
	caps.Emergency = ok
	return caps, nil
}

// ResolveFeature applies an "auto" | "on" | "off" override to a detected flag.
func ResolveFeature(mode string, detected bool) bool {
	switch mode {
	case "on":
		return true
	case "off":
		return false
	default:
		return detected
	}
}
