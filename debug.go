package docdb

import (
	"context"
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpCollectionHeaders = DumpFlags(1 << iota)
	DumpDocs
	DumpStats
	DumpIndexes
	DumpIndexEntries

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the raw contents of every collection for debugging. Index
// entries are decoded back into their key tuples.
func (s *Store) Dump(ctx context.Context, f DumpFlags) (string, error) {
	var buf strings.Builder
	err := s.view(ctx, func(tx *Tx) error {
		colls, err := tx.listCollections()
		if err != nil {
			return err
		}
		for _, info := range colls {
			cs, err := tx.collection(info.Name)
			if err != nil {
				return err
			}
			tx.dumpCollection(&buf, f, cs)
		}
		return nil
	})
	return buf.String(), err
}

func (tx *Tx) dumpCollection(w *strings.Builder, f DumpFlags, cs *collState) {
	prefix := cs.name()
	st := tx.collectionStats(cs)

	if f.Contains(DumpCollectionHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%d docs, key %s, validation %s)\n", prefix, st.Documents, cs.keyField(), cs.entry.Policy)
	}
	if f.Contains(DumpStats) {
		fmt.Fprintf(w, "%s.stats: index_entries = %d, data_size = %d, data_alloc = %d, index_size = %d, index_alloc = %d, total_alloc = %d\n", prefix, st.IndexEntries, st.DataSize, st.DataAlloc, st.IndexSize, st.IndexAlloc, st.TotalAlloc())
	}

	if f.Contains(DumpDocs) {
		if f.Contains(DumpStats) {
			fmt.Fprintln(w, dumpSep2)
		}
		c := tx.dataBucket(cs).Cursor()
		var pos int
		for k, v := c.First(); k != nil; k, v = c.Next() {
			pos++
			dumpDoc(w, prefix, pos, v)
		}
	}

	if f.Contains(DumpIndexes) {
		for _, is := range cs.indexes {
			tx.dumpIndex(w, prefix, f, cs, is)
		}
	}
}

func dumpDoc(w *strings.Builder, prefix string, pos int, v []byte) {
	vle, doc, err := decodeValue(v)
	if err != nil {
		fmt.Fprintf(w, "%s.%d = (m%d) ** ERROR: %v\n", prefix, pos, vle.ModCount, err)
		return
	}
	fmt.Fprintf(w, "%s.%d = (m%d) %s\n", prefix, pos, vle.ModCount, doc)
}

func (tx *Tx) dumpIndex(w *strings.Builder, prefix string, f DumpFlags, cs *collState, is *indexState) {
	fmt.Fprintln(w, dumpSep2)
	prefix = prefix + ".i." + is.Desc.Name

	var attrs []string
	if is.Desc.Unique {
		attrs = append(attrs, "unique")
	}
	if is.Multikey {
		attrs = append(attrs, "multikey")
	}
	if is.Desc.ExpireAfter > 0 {
		attrs = append(attrs, "ttl="+is.Desc.ExpireAfter.String())
	}
	fmt.Fprintf(w, "%s (0x%x) %s\n", prefix, is.Ordinal, strings.Join(attrs, " "))

	if f.Contains(DumpIndexEntries) {
		c := tx.indexBucket(cs, is).Cursor()
		var pos int
		for k, v := c.First(); k != nil; k, v = c.Next() {
			pos++
			fmt.Fprintf(w, "%s.%d: %s => %s\n", prefix, pos, formatIndexKey(is.Desc.Keys, k), formatRawKey(v))
		}
	}
}

func formatIndexKey(keys []IndexKey, k []byte) string {
	comps := make([]string, len(keys))
	for i, ik := range keys {
		n, err := skipKeyComponent(k, ik.Desc)
		if err != nil {
			return hexstr(k)
		}
		comp := k[:n]
		if ik.Desc {
			comp = append([]byte(nil), comp...)
			complementBytes(comp)
		}
		comps[i] = formatRawKey(comp)
		k = k[n:]
	}
	return "(" + strings.Join(comps, ", ") + ")"
}

func formatRawKey(raw []byte) string {
	v, _, err := decodeKeyValue(raw)
	if err != nil {
		return hexstr(raw)
	}
	return formatValue(v)
}
