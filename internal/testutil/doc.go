// Package testutil provides test helpers shared across packages: a
// controllable clock, request builders and small assertion helpers.
package testutil
