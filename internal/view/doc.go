// Package view projects state snapshots into read representations: the
// Kanban board and the flat lead table. Projections are pure functions of a
// snapshot and never touch the store.
package view
