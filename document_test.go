package docdb

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// orderedValues lists values in ascending order.
var orderedValues = []any{
	nil,
	math.Inf(-1),
	-1e300,
	int64(math.MinInt64),
	int64(math.MinInt64 + 1),
	int64(-5),
	-0.5,
	int64(0),
	0.25,
	int64(1),
	1.5,
	int64(1 << 40),
	float64(1 << 53),
	int64(1<<53 + 1),
	float64(1<<53 + 2),
	int64(1<<53 + 3),
	int64(math.MaxInt64 - 1),
	int64(math.MaxInt64),
	float64(1 << 63),
	math.Inf(1),
	"",
	"\x00",
	"a",
	"a\x00",
	"ab",
	"b",
	D(),
	D("a", 1),
	D("a", 1, "b", nil),
	D("a", 2),
	D("b", 0),
	[]any{},
	[]any{nil},
	[]any{int64(1)},
	[]any{int64(1), int64(2)},
	[]any{"a"},
	false,
	true,
	time.Date(1969, 12, 31, 23, 59, 59, 0, time.UTC),
	time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC),
	time.Date(1970, 1, 1, 0, 0, 0, 1, time.UTC),
	time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

func TestCompareOrder(t *testing.T) {
	for i, a := range orderedValues {
		for j, b := range orderedValues {
			require.Equal(t, sign(i-j), sign(Compare(a, b)), "%s vs %s", formatValue(a), formatValue(b))
		}
	}
	require.Equal(t, 0, Compare(int64(3), 3.0))
	require.Equal(t, 0, Compare(D("a", int64(1)), D("a", 1.0)))
	require.Equal(t, -1, sign(Compare([]any{int64(1)}, []any{int64(1), nil})))
}

func TestKeyEncodingOrder(t *testing.T) {
	keys := make([][]byte, len(orderedValues))
	descKeys := make([][]byte, len(orderedValues))
	for i, v := range orderedValues {
		keys[i] = appendKeyComponent(nil, v, false)
		descKeys[i] = appendKeyComponent(nil, v, true)
	}
	for i := range keys {
		for j := range keys {
			require.Equal(t, sign(i-j), bytes.Compare(keys[i], keys[j]), "%s vs %s", formatValue(orderedValues[i]), formatValue(orderedValues[j]))
			require.Equal(t, sign(j-i), bytes.Compare(descKeys[i], descKeys[j]))
		}
	}

	// numbers of different types share one encoding
	require.Equal(t, appendKeyValue(nil, int64(7)), appendKeyValue(nil, 7.0))
	require.Equal(t, appendKeyValue(nil, int64(1<<60)), appendKeyValue(nil, float64(1<<60)))
	require.NotEqual(t, appendKeyValue(nil, int64(1<<53)), appendKeyValue(nil, int64(1<<53+1)))
}

func TestKeyComponentBoundaries(t *testing.T) {
	tuple := []any{"a\x00b", D("x", []any{int64(1), "y"}), int64(-3), nil, true, time.Unix(1700000000, 5).UTC()}
	for _, desc := range []bool{false, true} {
		var buf []byte
		var lens []int
		for _, v := range tuple {
			n := len(buf)
			buf = appendKeyComponent(buf, v, desc)
			lens = append(lens, len(buf)-n)
		}
		rest := buf
		for i := range tuple {
			n, err := skipKeyComponent(rest, desc)
			require.NoError(t, err)
			require.Equal(t, lens[i], n, "component %d", i)
			rest = rest[n:]
		}
		require.Empty(t, rest)
	}

	_, err := skipKeyComponent([]byte{rankString, 'a'}, false)
	require.Error(t, err)
}

func TestPrimaryKeyRoundTrip(t *testing.T) {
	when := time.Date(2024, 6, 1, 12, 0, 0, 123, time.UTC)
	for _, v := range []any{int64(42), int64(-7), int64(1<<53 + 1), int64(math.MaxInt64), int64(math.MinInt64 + 1), 2.5, 1e300, "EQ\x00001", "", true, when} {
		raw, err := encodePrimaryKey(v)
		require.NoError(t, err)
		got, n, err := decodeKeyValue(raw)
		require.NoError(t, err)
		require.Equal(t, len(raw), n)
		require.Equal(t, v, got)
	}

	// integral doubles decode as integers
	raw, err := encodePrimaryKey(3.0)
	require.NoError(t, err)
	got, _, err := decodeKeyValue(raw)
	require.NoError(t, err)
	require.Equal(t, int64(3), got)

	_, err = encodePrimaryKey(D("a", 1))
	require.ErrorIs(t, err, ErrInvalidKey)
	_, err = encodePrimaryKey([]any{int64(1)})
	require.ErrorIs(t, err, ErrInvalidKey)
	_, err = encodePrimaryKey(nil)
	require.ErrorIs(t, err, ErrInvalidKey)
	_, err = encodePrimaryKey(math.NaN())
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestNormalize(t *testing.T) {
	type inner struct {
		Name string `msgpack:"name"`
	}
	n := 5
	tests := []struct {
		in   any
		want any
	}{
		{nil, nil},
		{7, int64(7)},
		{uint8(7), int64(7)},
		{float32(0.5), 0.5},
		{uint64(math.MaxUint64), float64(math.MaxUint64)},
		{&n, int64(5)},
		{(*int)(nil), nil},
		{[]string{"a", "b"}, []any{"a", "b"}},
		{[2]int{1, 2}, []any{int64(1), int64(2)}},
		{map[string]int{"b": 2, "a": 1}, D("a", 1, "b", 2)},
		{inner{"x"}, D("name", "x")},
		{time.Second, int64(time.Second)},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.in)
		require.NoError(t, err, "%#v", tt.in)
		if d, ok := tt.want.(*Doc); ok {
			require.True(t, d.Equal(got.(*Doc)), "%#v => %v", tt.in, got)
		} else {
			require.Equal(t, tt.want, got, "%#v", tt.in)
		}
	}

	for _, bad := range []any{[]byte("x"), map[int]string{1: "a"}, make(chan int), complex(1, 2)} {
		_, err := Normalize(bad)
		require.ErrorIs(t, err, ErrUnsupportedValue, "%#v", bad)
	}
}

func TestDocPaths(t *testing.T) {
	d := D("_id", 1, "site", D("name", "north"), "sensors", []any{D("type", "temp"), D("type", "rpm")}, "tags", []any{"a"})

	v, ok := d.Lookup("site.name")
	require.True(t, ok)
	require.Equal(t, "north", v)
	v, ok = d.Lookup("sensors.1.type")
	require.True(t, ok)
	require.Equal(t, "rpm", v)
	_, ok = d.Lookup("site.zone")
	require.False(t, ok)
	_, ok = d.Lookup("tags.5")
	require.False(t, ok)

	require.NoError(t, d.SetPath("site.zone", 3))
	require.NoError(t, d.SetPath("meta.created.by", "ops"))
	require.NoError(t, d.SetPath("sensors.0.value", 71.5))
	require.NoError(t, d.SetPath("tags.3", "d"))
	require.ErrorIs(t, d.SetPath("site.name.first", "x"), ErrInvalidUpdate)
	require.ErrorIs(t, d.SetPath("sensors.x", 1), ErrInvalidUpdate)
	requireDoc(t, `{"_id":1,"site":{"name":"north","zone":3},"sensors":[{"type":"temp","value":71.5},{"type":"rpm"}],"tags":["a",null,null,"d"],"meta":{"created":{"by":"ops"}}}`, d)

	require.True(t, d.UnsetPath("site.zone"))
	require.True(t, d.UnsetPath("tags.0"))
	require.False(t, d.UnsetPath("tags.9"))
	require.False(t, d.UnsetPath("nope.x"))
	require.True(t, d.UnsetPath("meta"))
	requireDoc(t, `{"_id":1,"site":{"name":"north"},"sensors":[{"type":"temp","value":71.5},{"type":"rpm"}],"tags":[null,null,null,"d"]}`, d)

	require.Equal(t, []string{"_id", "site", "sensors", "tags"}, d.Keys())
	require.True(t, d.Delete("tags"))
	require.False(t, d.Has("tags"))
}

func TestDocClone(t *testing.T) {
	d := D("a", D("b", []any{D("c", 1)}))
	c := d.Clone()
	require.NoError(t, c.SetPath("a.b.0.c", 2))
	requireDoc(t, `{"a":{"b":[{"c":1}]}}`, d)
	requireDoc(t, `{"a":{"b":[{"c":2}]}}`, c)
	require.False(t, d.Equal(c))
}

func TestDocMsgpack(t *testing.T) {
	when := time.Date(2024, 6, 1, 12, 0, 0, 500, time.UTC)
	d := D(
		"_id", "EQ001",
		"n", int64(-3),
		"big", int64(1<<62),
		"f", 2.5,
		"ok", true,
		"none", nil,
		"at", when,
		"site", D("z", 1, "a", 2),
		"list", []any{int64(1), "x", D("k", []any{})},
	)
	data, err := encodeDoc(nil, d)
	require.NoError(t, err)
	got, err := decodeDoc(data)
	require.NoError(t, err)
	require.True(t, d.Equal(got), "%v", got)
	require.Equal(t, d.Keys(), got.Keys())
	v, _ := got.Get("big")
	require.Equal(t, int64(1<<62), v)
	v, _ = got.Get("at")
	require.True(t, when.Equal(v.(time.Time)))

	_, err = decodeDoc([]byte{0x91, 0x01})
	require.Error(t, err)
	var de *DataError
	require.ErrorAs(t, err, &de)
}

func TestDocStruct(t *testing.T) {
	type sensor struct {
		Type  string  `msgpack:"type"`
		Value float64 `msgpack:"value"`
	}
	type equipment struct {
		ID      string   `msgpack:"_id"`
		Hours   int      `msgpack:"hours"`
		Sensors []sensor `msgpack:"sensors"`
	}
	in := equipment{"EQ001", 120, []sensor{{"temp", 71.5}}}

	d, err := FromStruct(in)
	require.NoError(t, err)
	requireDoc(t, `{"_id":"EQ001","hours":120,"sensors":[{"type":"temp","value":71.5}]}`, d)

	var out equipment
	require.NoError(t, d.Decode(&out))
	require.Equal(t, in, out)

	_, err = FromStruct(42)
	require.Error(t, err)
}

func TestDocJSON(t *testing.T) {
	d := D("s", "q\"uote", "f", 0.1, "i", int64(-2), "t", time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600)), "nan", math.NaN())
	require.Equal(t, `{"s":"q\"uote","f":0.1,"i":-2,"t":"2024-01-02T02:04:05Z","nan":null}`, d.String())

	m, err := DocFromMap(map[string]any{"b": 1, "a": []int{1}})
	require.NoError(t, err)
	require.Equal(t, `{"a":[1],"b":1}`, m.String())
}
