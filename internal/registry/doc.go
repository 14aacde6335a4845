// Package registry maintains the table of available, excluded, and ordered
// package repositories together with the cache of open package database
// handles. It is the single source of truth every other kite component
// consults before touching repository state.
package registry
