// Package reconcile turns untyped, flattened agent reply fields into the
// strongly typed pipeline and lead structures. Nothing downstream of this
// package ever sees raw agent output.
package reconcile
