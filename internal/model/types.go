package model

import (
	"fmt"
	"slices"
)

// EntityType names one table of the dataset. The name doubles as the key of
// the snapshot container, so existing values must never change.
type EntityType string

// Replicable entity types. Mutations to these go through the outbox.
const (
	Tickets        EntityType = "tickets"
	Stock          EntityType = "stock"
	Services       EntityType = "services"
	Invoices       EntityType = "invoices"
	Quotes         EntityType = "quotes"
	PurchaseOrders EntityType = "purchaseOrders"
	Appointments   EntityType = "appointments"
	DeviceSessions EntityType = "deviceSessions"
	Documents      EntityType = "documents"
	Files          EntityType = "files"
)

// Local-only record kinds. These never produce outbox entries and are never
// sent to other replicas.
const (
	Suggestions EntityType = "suggestions"
	Logs        EntityType = "logs"
	Backups     EntityType = "backups"
)

// ReplicableTypes lists every replicated entity type in snapshot order.
var ReplicableTypes = []EntityType{
	Tickets, Stock, Services, Invoices, Quotes,
	PurchaseOrders, Appointments, DeviceSessions, Documents, Files,
}

// LocalTypes lists the local-only side record kinds.
var LocalTypes = []EntityType{Suggestions, Logs, Backups}

// IsReplicable reports whether t is a replicated entity type.
func (t EntityType) IsReplicable() bool {
	return slices.Contains(ReplicableTypes, t)
}

// IsLocal reports whether t is a local-only side record kind.
func (t EntityType) IsLocal() bool {
	return slices.Contains(LocalTypes, t)
}

// ParseEntityType validates a type name coming from user input.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(s)
	if t.IsReplicable() || t.IsLocal() {
		return t, nil
	}
	return "", fmt.Errorf("unknown entity type %q", s)
}

// Scope is a named subset of entity types used by snapshot operations.
type Scope struct {
	Name  string
	Types []EntityType
}

// Includes reports whether the scope covers t.
func (s Scope) Includes(t EntityType) bool {
	return slices.Contains(s.Types, t)
}

var (
	// ScopeFull covers the whole dataset, including category-keyed suggestions.
	ScopeFull = Scope{
		Name:  "full",
		Types: append(slices.Clone(ReplicableTypes), Suggestions),
	}

	// ScopeFinance covers billing and inventory records.
	ScopeFinance = Scope{
		Name:  "finance",
		Types: []EntityType{Invoices, Quotes, PurchaseOrders, Stock, Services},
	}

	// ScopeEditor covers free-form documents and stored files.
	ScopeEditor = Scope{
		Name:  "editor",
		Types: []EntityType{Documents, Files},
	}
)

// Scopes lists the known scopes by name.
var Scopes = map[string]Scope{
	ScopeFull.Name:    ScopeFull,
	ScopeFinance.Name: ScopeFinance,
	ScopeEditor.Name:  ScopeEditor,
}

// LookupScope returns the scope registered under name.
func LookupScope(name string) (Scope, error) {
	s, ok := Scopes[name]
	if !ok {
		return Scope{}, fmt.Errorf("unknown scope %q", name)
	}
	return s, nil
}
