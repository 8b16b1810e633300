package storage

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
)

// Field readers tolerant of the JSON round trip the sqlite backend
// applies: numbers come back as json.Number, byte slices as base64
// strings. The in-memory backend returns values unchanged.

// Uint64 reads a numeric field, returning 0 when absent.
func Uint64(rec Record, field string) uint64 {
	switch v := rec[field].(type) {
	case uint64:
		return v
	case int:
		return uint64(v)
	case int64:
		return uint64(v)
	case float64:
		return uint64(v)
	case json.Number:
		n, err := strconv.ParseUint(v.String(), 10, 64)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

// Int reads an integer field, returning 0 when absent.
func Int(rec Record, field string) int {
	return int(Uint64(rec, field))
}

// String reads a string field, returning "" when absent.
func String(rec Record, field string) string {
	s, _ := rec[field].(string)
	return s
}

// Bytes reads a byte-slice field, returning nil when absent.
func Bytes(rec Record, field string) []byte {
	switch v := rec[field].(type) {
	case []byte:
		return v
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return []byte(v)
		}
		return decoded
	}
	return nil
}
