package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Feed id prefixes. Persisted rows use db_; everything else lives in the buffer.
const (
	PrefixPersisted = "db_"
	PrefixWeather   = "weather_"
	PrefixSystem    = "system_"
	PrefixCustom    = "custom_"
	PrefixManual    = "manual_"
)

var bufferPrefixes = []string{PrefixWeather, PrefixSystem, PrefixCustom, PrefixManual}

// PersistedAlertID is the feed identifier of a stored notification row.
func PersistedAlertID(id int64) string {
	return PrefixPersisted + strconv.FormatInt(id, 10)
}

// AlertRef says which store an alert id addresses.
type AlertRef struct {
	PersistedID int64  // set when the id addresses a stored row
	BufferID    string // set when the id addresses a buffer entry
}

// Persisted reports whether the ref addresses a stored row.
func (r AlertRef) Persisted() bool { return r.PersistedID > 0 }

// ParseAlertRef dispatches on the id prefix: db_<n> or a bare integer address
// the store, known buffer prefixes address the buffer. Anything else is
// ErrInvalidInput.
func ParseAlertRef(id string) (AlertRef, error) {
	id = strings.TrimSpace(id)
	raw, isDB := strings.CutPrefix(id, PrefixPersisted)
	if !isDB {
		for _, prefix := range bufferPrefixes {
			if strings.HasPrefix(id, prefix) && len(id) > len(prefix) {
				return AlertRef{BufferID: id}, nil
			}
		}
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return AlertRef{}, fmt.Errorf("malformed alert id %q: %w", id, ErrInvalidInput)
	}
	return AlertRef{PersistedID: n}, nil
}
