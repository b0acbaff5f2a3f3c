// Package models contains GORM persistence models for the allocation engine.
// Domain aggregates carry no ORM tags; each model converts to and from its
// aggregate with ToDomain / FromDomain.
//
//   - base.go: shared ID, timestamp and version columns
//   - allocation.go: lots and reservations
//   - order.go: the local sales order mirror and production requests
package models
