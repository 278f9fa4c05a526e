// Package types provides core data types for xapiflat.
package types

// FlatRow is one projected statement. Values are in schema column order;
// JSON null and absent fields are empty strings.
type FlatRow []string
