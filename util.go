package docdb

import "encoding/hex"

// hexstr renders raw keys for error messages and dumps.
func hexstr(b []byte) string {
	switch {
	case b == nil:
		return "<nil>"
	case len(b) == 0:
		return "<empty>"
	}
	return hex.EncodeToString(b)
}
