// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package attr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_EncodeDecode_RoundTrip(t *testing.T) {
	cases := []struct {
		name string
		kind Kind
		v    *Value
	}{
		{"integer", KindInteger, IntValue(KindInteger, 42)},
		{"boolean true", KindBoolean, BoolValue(true)},
		{"boolean false", KindBoolean, BoolValue(false)},
		{"string", KindString, StringValue("workq")},
		{"string set", KindStringSet, StringSetValue([]string{"a", "b", "c"})},
		{"duration", KindDuration, DurationValue(3600)},
		{"size", KindSize, SizeValue(1 << 30)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			wire := c.v.Encode()
			got := Decode(c.kind, wire)
			assert.Equal(t, c.v.Encode(), got.Encode())
		})
	}
}

func TestSize_UnitSuffixes(t *testing.T) {
	assert.Equal(t, int64(1<<30), decodeSize("1gib"))
	assert.Equal(t, int64(1000*1000*1000), decodeSize("1gb"))
	assert.Equal(t, "1gib", encodeSize(1<<30))
}

func TestSet_Incr_StringSet_IsUnion(t *testing.T) {
	existing := StringSetValue([]string{"a", "b"})
	incoming := StringSetValue([]string{"b", "c"})
	result, err := Set(existing, incoming, OpIncr)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, result.StrSet)
}

func TestSet_Decr_StringSet_IsDifference(t *testing.T) {
	existing := StringSetValue([]string{"a", "b", "c"})
	incoming := StringSetValue([]string{"b"})
	result, err := Set(existing, incoming, OpDecr)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "c"}, result.StrSet)
}

func TestSet_Merge_ResourceList_IsKeywiseReplace(t *testing.T) {
	existing := ResourceListValue(map[string]*Value{"ncpus": IntValue(KindInteger, 1), "mem": StringValue("1gb")})
	incoming := ResourceListValue(map[string]*Value{"mem": StringValue("2gb")})
	result, err := Set(existing, incoming, OpMerge)
	require.NoError(t, err)
	assert.Equal(t, "1", result.Resources["ncpus"].Encode())
	assert.Equal(t, "2gb", result.Resources["mem"].Encode())
}

func TestSet_Scalar_IncrDecr(t *testing.T) {
	existing := IntValue(KindInteger, 10)
	incoming := IntValue(KindInteger, 3)
	incr, err := Set(existing, incoming, OpIncr)
	require.NoError(t, err)
	assert.EqualValues(t, 13, incr.Int)

	decr, err := Set(existing, incoming, OpDecr)
	require.NoError(t, err)
	assert.EqualValues(t, 7, decr.Int)
}

func TestSet_OrderingOps_ReturnBoolean(t *testing.T) {
	a := IntValue(KindInteger, 5)
	b := IntValue(KindInteger, 3)
	gt, err := Set(a, b, OpGT)
	require.NoError(t, err)
	assert.EqualValues(t, 1, gt.Int)

	lt, err := Set(a, b, OpLT)
	require.NoError(t, err)
	assert.EqualValues(t, 0, lt.Int)
}

func TestArray_SetAndEncodeSparse_OnlyDirty(t *testing.T) {
	table := NewTable()
	table.Register(&Definition{Name: "job_name", Kind: KindString})
	table.Register(&Definition{Name: "resource_list", Kind: KindResourceList, Resource: true})

	a := NewArray(table)
	require.NoError(t, a.Set("job_name", "", StringValue("j1"), OpSet))

	sparse := a.EncodeSparse()
	require.Len(t, sparse, 1)
	assert.Equal(t, "job_name.", sparse[0].Key)
}

func TestArray_DecodeEntries_TolerantOfUnknownNames(t *testing.T) {
	table := NewTable()
	table.Register(&Definition{Name: "job_name", Kind: KindString})

	entries := []Entry{
		{Name: "job_name", Value: "j1"},
		{Name: "some_future_attr", Value: "x"},
	}
	a := DecodeEntries(table, entries)
	got, ok := a.Get("job_name", "")
	require.True(t, ok)
	assert.Equal(t, "j1", got.Value.Str)

	_, ok = a.Get("some_future_attr", "")
	assert.True(t, ok, "unknown attribute should still decode into a catch-all bucket")
}

func TestEffectiveSharing_FullTable(t *testing.T) {
	cases := []struct {
		node SharingMode
		req  Placement
		want Placement
	}{
		{SharingDefaultShared, PlaceShare, PlaceShare},
		{SharingDefaultShared, PlaceExcl, PlaceExcl},
		{SharingDefaultShared, PlaceExclhost, PlaceExclhost},
		{SharingDefaultShared, PlaceFree, PlaceFree},

		{SharingDefaultExcl, PlaceShare, PlaceExcl},
		{SharingDefaultExcl, PlaceExcl, PlaceExcl},
		{SharingDefaultExcl, PlaceExclhost, PlaceExclhost},
		{SharingDefaultExcl, PlaceFree, PlaceFree},

		{SharingDefaultExclhost, PlaceShare, PlaceExclhost},
		{SharingDefaultExclhost, PlaceExcl, PlaceExclhost},
		{SharingDefaultExclhost, PlaceExclhost, PlaceExclhost},
		{SharingDefaultExclhost, PlaceFree, PlaceExclhost},

		{SharingForceExclhost, PlaceShare, PlaceExclhost},
		{SharingForceExclhost, PlaceExcl, PlaceExclhost},
		{SharingForceExclhost, PlaceExclhost, PlaceExclhost},
		{SharingForceExclhost, PlaceFree, PlaceExclhost},

		{SharingIgnoreExcl, PlaceShare, PlaceShare},
		{SharingIgnoreExcl, PlaceExcl, PlaceShare},
		{SharingIgnoreExcl, PlaceExclhost, PlaceShare},
		{SharingIgnoreExcl, PlaceFree, PlaceFree},
	}
	for _, c := range cases {
		got := EffectiveSharing(c.node, c.req)
		assert.Equal(t, c.want, got, "node=%v req=%v", c.node, c.req)
	}
}
