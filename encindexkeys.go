package docdb

import (
	"bytes"
	"encoding/binary"
)

func indexKeysSize(rows indexRows) int {
	total := binary.MaxVarintLen32 + len(rows)*(binary.MaxVarintLen32+binary.MaxVarintLen32)
	for _, row := range rows {
		total += len(row.Key)
	}
	return total
}

// appendIndexKeys records the index entries a document contributed, so they
// can be removed when the document changes. Rows must be sorted.
func appendIndexKeys(buf []byte, rows indexRows) []byte {
	buf = appendUvarint(buf, uint64(len(rows)))
	for _, row := range rows {
		buf = appendUvarint(buf, row.Ord)
		buf = appendVarbytes(buf, row.Key)
	}
	return buf
}

func decodeIndexKeys(data []byte, f func(ord uint64, key []byte) error) error {
	if len(data) == 0 {
		return nil
	}
	d := makeByteDecoder(data)
	n, err := d.Uvarinti()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		ord, err := d.Uvarint()
		if err != nil {
			return err
		}
		key, err := d.VarBytes()
		if err != nil {
			return err
		}
		if err := f(ord, key); err != nil {
			return err
		}
	}
	return nil
}

type indexDiffer struct {
	newRows indexRows
}

func (d *indexDiffer) checkOldKey(oldOrd uint64, oldKey []byte) bool {
	// Look for a new row that's >= old row.
	for len(d.newRows) > 0 {
		newOrd := d.newRows[0].Ord
		if oldOrd < newOrd {
			return false
		} else if oldOrd == newOrd {
			c := bytes.Compare(oldKey, d.newRows[0].Key)
			if c < 0 {
				return false
			} else if c == 0 {
				return true // found exact match
			}
		}
		d.newRows = d.newRows[1:] // shift to next new row and compare again
	}
	return false // no more new rows, so remaining old rows have been deleted
}

func findRemovedIndexKeys(oldData []byte, newRows indexRows, removed func(ord uint64, key []byte) error) error {
	d := indexDiffer{newRows}
	return decodeIndexKeys(oldData, func(ord uint64, key []byte) error {
		if !d.checkOldKey(ord, key) {
			return removed(ord, key)
		}
		return nil
	})
}
