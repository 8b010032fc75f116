// Package shared holds cross-cutting test helpers that belong to no
// single domain package.
//
// The testutil subpackage provides the buffered slog handler used to
// assert on structured log output. Production code must not import
// anything under this package.
package shared
