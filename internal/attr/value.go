// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package attr implements the attribute model (section 4.2): a typed
// attribute definition table per object type, encode/decode to the wire
// list form, diff/merge, and the sparse hstore-like persisted encoding.
package attr

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind is the closed set of attribute value types named in section 3.
type Kind int

const (
	KindInteger Kind = iota
	KindLong
	KindBoolean
	KindCharacter
	KindString
	KindStringSet
	KindDuration
	KindSize
	KindFloat
	KindResourceList
	KindAccessList
	KindFrequency
	KindEntityLimit
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindLong:
		return "long"
	case KindBoolean:
		return "boolean"
	case KindCharacter:
		return "character"
	case KindString:
		return "string"
	case KindStringSet:
		return "string_set"
	case KindDuration:
		return "duration"
	case KindSize:
		return "size"
	case KindFloat:
		return "float"
	case KindResourceList:
		return "resource_list"
	case KindAccessList:
		return "access_list"
	case KindFrequency:
		return "frequency"
	case KindEntityLimit:
		return "entity_limit"
	default:
		return "unknown"
	}
}

// Op is the operator applied by a Set hook (section 4.2).
type Op int

const (
	OpSet Op = iota
	OpIncr
	OpDecr
	OpEQ
	OpNE
	OpGT
	OpGE
	OpLT
	OpLE
	OpMerge
)

// Value is a tagged value: one field is populated per Kind, per section
// 9's "interface per attribute kind" guidance applied to the value itself
// (an explicit field per kind keeps Compare/Set exhaustive switches rather
// than interface{} type assertions scattered through the codebase).
type Value struct {
	Kind Kind

	Int       int64             // integer, long, character (rune as int64), boolean (0/1)
	Str       string            // string
	StrSet    []string          // set-of-strings, access-list
	Duration  int64             // seconds
	SizeBytes int64             // size, canonicalized to bytes
	Float     float64           // float, frequency
	Resources map[string]*Value // resource-list: resource name -> value
}

func IntValue(k Kind, v int64) *Value    { return &Value{Kind: k, Int: v} }
func StringValue(s string) *Value        { return &Value{Kind: KindString, Str: s} }
func BoolValue(b bool) *Value {
	v := int64(0)
	if b {
		v = 1
	}
	return &Value{Kind: KindBoolean, Int: v}
}
func DurationValue(seconds int64) *Value { return &Value{Kind: KindDuration, Duration: seconds} }
func SizeValue(bytes int64) *Value       { return &Value{Kind: KindSize, SizeBytes: bytes} }
func FloatValue(f float64) *Value        { return &Value{Kind: KindFloat, Float: f} }
func StringSetValue(ss []string) *Value  { return &Value{Kind: KindStringSet, StrSet: append([]string(nil), ss...)} }
func ResourceListValue(m map[string]*Value) *Value {
	cp := make(map[string]*Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return &Value{Kind: KindResourceList, Resources: cp}
}

// Encode renders v into its canonical wire-string form (the "value" field
// of the flat (object-qualifier, name, resource, value, flags, op) wire
// tuple described in section 4.2).
func (v *Value) Encode() string {
	if v == nil {
		return ""
	}
	switch v.Kind {
	case KindInteger, KindLong, KindCharacter:
		return strconv.FormatInt(v.Int, 10)
	case KindBoolean:
		if v.Int != 0 {
			return "1"
		}
		return "0"
	case KindString:
		return v.Str
	case KindStringSet, KindAccessList:
		return strings.Join(v.StrSet, ",")
	case KindDuration:
		return strconv.FormatInt(v.Duration, 10)
	case KindSize:
		return encodeSize(v.SizeBytes)
	case KindFloat, KindFrequency:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindResourceList:
		names := make([]string, 0, len(v.Resources))
		for name := range v.Resources {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, name+"="+v.Resources[name].Encode())
		}
		return strings.Join(parts, ":")
	case KindEntityLimit:
		return v.Str
	default:
		return ""
	}
}

// Decode parses wire into a Value of kind k. Decoding is tolerant
// (section 4.2): a malformed scalar falls back to the zero value rather
// than erroring, matching the "unknown names yield a catch-all bucket"
// forward-compatibility philosophy; strict validation belongs to the
// object store's persisted-read path, not this hook.
func Decode(k Kind, wire string) *Value {
	switch k {
	case KindInteger, KindLong, KindCharacter:
		n, _ := strconv.ParseInt(wire, 10, 64)
		return &Value{Kind: k, Int: n}
	case KindBoolean:
		return BoolValue(wire == "1" || strings.EqualFold(wire, "true"))
	case KindString, KindEntityLimit:
		return &Value{Kind: k, Str: wire}
	case KindStringSet, KindAccessList:
		var set []string
		if wire != "" {
			set = strings.Split(wire, ",")
		}
		return &Value{Kind: k, StrSet: set}
	case KindDuration:
		n, _ := strconv.ParseInt(wire, 10, 64)
		return &Value{Kind: k, Duration: n}
	case KindSize:
		return &Value{Kind: k, SizeBytes: decodeSize(wire)}
	case KindFloat, KindFrequency:
		f, _ := strconv.ParseFloat(wire, 64)
		return &Value{Kind: k, Float: f}
	case KindResourceList:
		resources := map[string]*Value{}
		if wire != "" {
			for _, part := range strings.Split(wire, ":") {
				name, val, ok := strings.Cut(part, "=")
				if !ok {
					continue
				}
				resources[name] = &Value{Kind: KindString, Str: val}
			}
		}
		return &Value{Kind: k, Resources: resources}
	default:
		return &Value{Kind: k}
	}
}

// sizeUnits maps a suffix to its byte multiplier, binary and SI both
// (section 3: "size (bytes with binary/SI units)").
var sizeUnits = []struct {
	suffix string
	mult   int64
}{
	{"kb", 1000}, {"mb", 1000 * 1000}, {"gb", 1000 * 1000 * 1000},
	{"tb", 1000 * 1000 * 1000 * 1000},
	{"kib", 1024}, {"mib", 1024 * 1024}, {"gib", 1024 * 1024 * 1024},
	{"tib", 1024 * 1024 * 1024 * 1024},
	{"b", 1},
	{"w", 8}, // word, PBS legacy unit (8 bytes)
}

func decodeSize(s string) int64 {
	s = strings.TrimSpace(strings.ToLower(s))
	for _, u := range sizeUnits {
		if strings.HasSuffix(s, u.suffix) {
			numPart := strings.TrimSuffix(s, u.suffix)
			n, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				return 0
			}
			return int64(n * float64(u.mult))
		}
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func encodeSize(bytes int64) string {
	switch {
	case bytes >= 1<<40 && bytes%(1<<40) == 0:
		return fmt.Sprintf("%dtib", bytes/(1<<40))
	case bytes >= 1<<30 && bytes%(1<<30) == 0:
		return fmt.Sprintf("%dgib", bytes/(1<<30))
	case bytes >= 1<<20 && bytes%(1<<20) == 0:
		return fmt.Sprintf("%dmib", bytes/(1<<20))
	case bytes >= 1<<10 && bytes%(1<<10) == 0:
		return fmt.Sprintf("%dkib", bytes/(1<<10))
	default:
		return fmt.Sprintf("%db", bytes)
	}
}

// Compare orders two values of the same kind for the ordering operators
// (GT/GE/LT/LE); zero means equal, negative means a<b, positive a>b.
func Compare(a, b *Value) int {
	if a == nil || b == nil {
		return 0
	}
	switch a.Kind {
	case KindInteger, KindLong, KindCharacter, KindBoolean:
		return int(a.Int - b.Int)
	case KindDuration:
		return int(a.Duration - b.Duration)
	case KindSize:
		return int(a.SizeBytes - b.SizeBytes)
	case KindFloat, KindFrequency:
		switch {
		case a.Float < b.Float:
			return -1
		case a.Float > b.Float:
			return 1
		default:
			return 0
		}
	case KindString, KindEntityLimit:
		return strings.Compare(a.Str, b.Str)
	default:
		return 0
	}
}

// Set applies op to existing (possibly nil) in place of incoming and
// returns the resulting value, implementing the policy table from
// section 4.2.
func Set(existing, incoming *Value, op Op) (*Value, error) {
	if existing == nil {
		existing = &Value{Kind: incoming.Kind}
	}
	switch op {
	case OpSet:
		return incoming, nil
	case OpIncr:
		switch incoming.Kind {
		case KindStringSet, KindAccessList:
			return StringSetValue(unionStrings(existing.StrSet, incoming.StrSet)), nil
		case KindInteger, KindLong, KindCharacter:
			return IntValue(incoming.Kind, existing.Int+incoming.Int), nil
		case KindDuration:
			return DurationValue(existing.Duration + incoming.Duration), nil
		case KindSize:
			return SizeValue(existing.SizeBytes + incoming.SizeBytes), nil
		case KindFloat, KindFrequency:
			return &Value{Kind: incoming.Kind, Float: existing.Float + incoming.Float}, nil
		default:
			return nil, fmt.Errorf("attr: INCR not defined for kind %s", incoming.Kind)
		}
	case OpDecr:
		switch incoming.Kind {
		case KindStringSet, KindAccessList:
			return StringSetValue(differenceStrings(existing.StrSet, incoming.StrSet)), nil
		case KindInteger, KindLong, KindCharacter:
			return IntValue(incoming.Kind, existing.Int-incoming.Int), nil
		case KindDuration:
			return DurationValue(existing.Duration - incoming.Duration), nil
		case KindSize:
			return SizeValue(existing.SizeBytes - incoming.SizeBytes), nil
		case KindFloat, KindFrequency:
			return &Value{Kind: incoming.Kind, Float: existing.Float - incoming.Float}, nil
		default:
			return nil, fmt.Errorf("attr: DECR not defined for kind %s", incoming.Kind)
		}
	case OpMerge:
		if incoming.Kind != KindResourceList {
			return nil, fmt.Errorf("attr: MERGE only defined for resource-list")
		}
		merged := make(map[string]*Value, len(existing.Resources)+len(incoming.Resources))
		for k, v := range existing.Resources {
			merged[k] = v
		}
		for k, v := range incoming.Resources {
			merged[k] = v
		}
		return ResourceListValue(merged), nil
	case OpEQ, OpNE, OpGT, OpGE, OpLT, OpLE:
		cmp := Compare(existing, incoming)
		result := false
		switch op {
		case OpEQ:
			result = cmp == 0
		case OpNE:
			result = cmp != 0
		case OpGT:
			result = cmp > 0
		case OpGE:
			result = cmp >= 0
		case OpLT:
			result = cmp < 0
		case OpLE:
			result = cmp <= 0
		}
		return BoolValue(result), nil
	default:
		return nil, fmt.Errorf("attr: unknown op %d", op)
	}
}

func unionStrings(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func differenceStrings(a, b []string) []string {
	remove := map[string]bool{}
	for _, s := range b {
		remove[s] = true
	}
	var out []string
	for _, s := range a {
		if !remove[s] {
			out = append(out, s)
		}
	}
	return out
}
