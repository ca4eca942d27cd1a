// Package oid formats the external identifiers of registered objects.
//
// A live object is written as tag:thread-service:OID-0x<id>. A link whose
// target was deleted is written as tag:thread-service:Missing-OID-0x<id>, so
// readers can tell "never linked" from "linked to something now gone".
package oid

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	prefix     = "tag:thread-service:"
	livePart   = "OID-0x"
	missingTag = "Missing-"
)

// Format returns the external id of a live object.
func Format(id int64) string {
	return prefix + livePart + strconv.FormatInt(id, 16)
}

// Missing returns the placeholder for a deleted object that had id.
func Missing(id int64) string {
	return prefix + missingTag + livePart + strconv.FormatInt(id, 16)
}

// Parse extracts the integer id from either form.
func Parse(s string) (id int64, missing bool, err error) {
	rest, ok := strings.CutPrefix(s, prefix)
	if !ok {
		return 0, false, fmt.Errorf("oid: %q is not a thread-service id", s)
	}
	rest, missing = strings.CutPrefix(rest, missingTag)
	hex, ok := strings.CutPrefix(rest, livePart)
	if !ok || hex == "" {
		return 0, false, fmt.Errorf("oid: malformed id %q", s)
	}
	id, err = strconv.ParseInt(hex, 16, 64)
	if err != nil || id <= 0 {
		return 0, false, fmt.Errorf("oid: malformed id %q", s)
	}
	return id, missing, nil
}

// IsMissing reports whether s is a missing placeholder.
func IsMissing(s string) bool {
	_, missing, err := Parse(s)
	return err == nil && missing
}
