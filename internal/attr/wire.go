// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package attr

import "strings"

// Entry is one element of the flat wire-list encoding described in
// section 4.2: "(object-qualifier, name, resource, value, flags, op)".
type Entry struct {
	ObjectQualifier string
	Name            string
	Resource        string
	Value           string
	Flags           Flag
	Op              Op
}

// Attribute is an in-memory (name, optional resource, value, flags, op)
// tuple (section 3) bound to its Definition.
type Attribute struct {
	Def      *Definition
	Resource string
	Value    *Value
	Flags    Flag
	Op       Op
}

// Array is an object's attribute array, indexed by definition name — the
// per-object-type enum ordering from section 3 is preserved by iterating
// the owning Table's Names(), not map iteration order.
type Array struct {
	table *Table
	attrs map[string]*Attribute
}

func NewArray(table *Table) *Array {
	return &Array{table: table, attrs: map[string]*Attribute{}}
}

// Set applies op to the named attribute, creating it from the table
// definition if absent, and marks it dirty.
func (a *Array) Set(name, resource string, incoming *Value, op Op) error {
	def, ok := a.table.Lookup(name)
	if !ok {
		// Unknown names yield a catch-all bucket rather than failing
		// (section 4.2, tolerant decode).
		def = &Definition{Name: name, Kind: incoming.Kind}
	}
	key := attrKey(name, resource)
	existing := a.attrs[key]
	var existingValue *Value
	if existing != nil {
		existingValue = existing.Value
	}
	result, err := def.SetOp(existingValue, incoming, op)
	if err != nil {
		return err
	}
	a.attrs[key] = &Attribute{Def: def, Resource: resource, Value: result, Flags: FlagDirty | FlagSet, Op: op}
	return nil
}

// Get returns the named attribute, and whether it is present.
func (a *Array) Get(name, resource string) (*Attribute, bool) {
	v, ok := a.attrs[attrKey(name, resource)]
	return v, ok
}

// Encode renders the array's attributes as wire Entries, in the order
// named by the owning Table (section 3: ordering is part of the persisted
// format).
func (a *Array) Encode(objectQualifier string) []Entry {
	var entries []Entry
	for _, name := range a.table.Names() {
		for key, attr := range a.attrs {
			n, res := splitAttrKey(key)
			if n != name {
				continue
			}
			entries = append(entries, Entry{
				ObjectQualifier: objectQualifier,
				Name:            name,
				Resource:        res,
				Value:           attr.Def.Encode(attr.Value),
				Flags:           attr.Flags,
				Op:              attr.Op,
			})
		}
	}
	return entries
}

// DecodeEntries applies a flat wire-list onto a fresh Array bound to
// table, tolerant of unknown names per section 4.2.
func DecodeEntries(table *Table, entries []Entry) *Array {
	a := NewArray(table)
	for _, e := range entries {
		def, ok := table.Lookup(e.Name)
		var v *Value
		if ok {
			v = def.Decode(e.Value)
		} else {
			v = &Value{Kind: KindString, Str: e.Value}
			def = &Definition{Name: e.Name, Kind: KindString}
		}
		a.attrs[attrKey(e.Name, e.Resource)] = &Attribute{
			Def: def, Resource: e.Resource, Value: v, Flags: e.Flags, Op: e.Op,
		}
	}
	return a
}

// Dirty returns only the attributes with the dirty bit set — the only
// form persisted (section 4.2).
func (a *Array) Dirty() []*Attribute {
	var out []*Attribute
	for _, attr := range a.attrs {
		if attr.Flags&FlagDirty != 0 {
			out = append(out, attr)
		}
	}
	return out
}

// ClearDirty resets the dirty bit on every attribute, called after a
// successful full/insert save.
func (a *Array) ClearDirty() {
	for _, attr := range a.attrs {
		attr.Flags &^= FlagDirty
	}
}

// SparseEntry is one row of the hstore-like persisted form (section 4.2):
// "name.resource -> flags.value", with '.' always present.
type SparseEntry struct {
	Key   string // "name.resource", resource empty but '.' present when absent
	Value string // "flags.value"
}

// EncodeSparse renders only the dirty attributes as the persisted sparse
// form.
func (a *Array) EncodeSparse() []SparseEntry {
	var out []SparseEntry
	for _, attr := range a.Dirty() {
		key := attr.Def.Name + "." + attr.Resource
		value := itoa(int(attr.Flags)) + "." + attr.Def.Encode(attr.Value)
		out = append(out, SparseEntry{Key: key, Value: value})
	}
	return out
}

func attrKey(name, resource string) string { return name + "\x00" + resource }

func splitAttrKey(key string) (name, resource string) {
	parts := strings.SplitN(key, "\x00", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
