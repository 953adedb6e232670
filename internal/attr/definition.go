// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package attr

import "golang.org/x/text/cases"

// foldCaser normalizes attribute/resource names for case-insensitive
// lookup (original_source's resource definition tables resolve names via
// strcasecmp). Attribute *values* such as AccessList entries stay
// case-sensitive; only name lookup folds case.
var foldCaser = cases.Fold()

// Perm is the permission bitset carried on each attribute definition
// (section 4.2).
type Perm int

const (
	PermReadOnly Perm = 1 << iota
	PermManagerOnly
	PermSchedSet
	PermHidden
	PermCvtSlt // converted on set, legacy compatibility flag
)

func (p Perm) Has(f Perm) bool { return p&f != 0 }

// Flag is the per-attribute runtime flag set (section 4.2); the dirty bit
// drives persistence (section 4.2: "a sparse store serialization writes
// only attributes with the dirty bit set").
type Flag int

const (
	FlagDirty Flag = 1 << iota
	FlagSet
	FlagFree
)

// Definition is a concrete struct shared by every attribute kind, carrying
// the five hooks named in section 4.2 as methods that dispatch on Kind.
type Definition struct {
	Name     string
	Kind     Kind
	Perm     Perm
	Resource bool // true for resource-list member definitions
}

// Decode implements the decode hook: wire -> value.
func (d *Definition) Decode(wire string) *Value { return Decode(d.Kind, wire) }

// Encode implements the encode hook: value -> wire.
func (d *Definition) Encode(v *Value) string { return v.Encode() }

// SetOp implements the set hook: apply op to existing.
func (d *Definition) SetOp(existing, incoming *Value, op Op) (*Value, error) {
	return Set(existing, incoming, op)
}

// CompareTo implements the compare hook.
func (d *Definition) CompareTo(a, b *Value) int { return Compare(a, b) }

// Free implements the free hook: in Go this is a no-op (GC reclaims the
// Value), kept as a named method so callers that iterate an object's
// attribute array to "free" it on destroy have a single call site to
// instrument or extend, matching the object lifecycle in section 3.
func (d *Definition) Free(*Value) {}

// ObjectType is one of the six persisted object kinds (section 3).
type ObjectType int

const (
	ObjectServer ObjectType = iota
	ObjectScheduler
	ObjectQueue
	ObjectJob
	ObjectReservation
	ObjectNode
)

// Table is a per-object-type definition table; ordering of Names() is part
// of the persisted wire format (section 3: "ordering is part of the
// persisted format"), so Table preserves registration order.
type Table struct {
	order []string
	defs  map[string]*Definition
	folded map[string]*Definition // keyed by case-folded name, for lookup only
}

func NewTable() *Table {
	return &Table{defs: map[string]*Definition{}, folded: map[string]*Definition{}}
}

// Register adds a definition, preserving registration order.
func (t *Table) Register(d *Definition) {
	if _, exists := t.defs[d.Name]; !exists {
		t.order = append(t.order, d.Name)
	}
	t.defs[d.Name] = d
	t.folded[foldCaser.String(d.Name)] = d
}

// Lookup returns the definition for name, and whether it was registered.
// Name matching is case-insensitive (section 9 porting note on
// original_source's strcasecmp resource lookup); the Value itself is
// never case-folded.
func (t *Table) Lookup(name string) (*Definition, bool) {
	if d, ok := t.defs[name]; ok {
		return d, ok
	}
	d, ok := t.folded[foldCaser.String(name)]
	return d, ok
}

// Names returns definition names in registration order.
func (t *Table) Names() []string {
	return append([]string(nil), t.order...)
}

// registries holds one Table per ObjectType, populated at startup by the
// daemon (section 4.2: "An attribute definition table per object type").
var registries = map[ObjectType]*Table{
	ObjectServer:      NewTable(),
	ObjectScheduler:   NewTable(),
	ObjectQueue:       NewTable(),
	ObjectJob:         NewTable(),
	ObjectReservation: NewTable(),
	ObjectNode:        NewTable(),
}

// RegistryFor returns the definition table for an object type.
func RegistryFor(t ObjectType) *Table { return registries[t] }
