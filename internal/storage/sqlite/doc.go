// Package sqlite implements hub persistence over a single SQLite file.
package sqlite
