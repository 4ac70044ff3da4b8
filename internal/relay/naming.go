package relay

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

// The processed-key naming contract. The relocator generates these names and
// the reprocessing guard recognizes them; both sides live in this file so
// they cannot drift apart. A generated name the guard does not recognize
// turns every relocation into an endless notification loop.

// StampLayout renders a processing instant as a basic-format ISO-8601 UTC
// timestamp with fixed-width nanoseconds. No colons, so the stamp is safe in
// object keys and URLs.
const StampLayout = "20060102T150405.000000000Z"

// ErrorsSubpath is the per-route subfolder rejected arrivals move to.
const ErrorsSubpath = "errors"

// prefixes recording why an arrival was rejected
const (
	ReasonInvalidJSON   = "invalid-json"
	ReasonInvalidSchema = "invalid-schema"
)

// ErrorReasonTag names the object tag carrying the URL-encoded rejection
// reason on a quarantined object.
const ErrorReasonTag = "error-reason"

// Dotall with an optional stem: original filenames can be a bare ".json" or
// contain newlines, and the guard must still recognize their stamped forms.
var stampedNamePattern = regexp.MustCompile(`(?s)^[0-9]{8}T[0-9]{6}\.[0-9]{9}Z-.*\.json$`)

// IsStampedName reports whether filename carries the processed stamp.
func IsStampedName(filename string) bool {
	return stampedNamePattern.MatchString(filename)
}

// Stamp renders processedAt in the contract layout.
func Stamp(processedAt time.Time) string {
	return processedAt.UTC().Format(StampLayout)
}

// StampedKey builds the canonical processed key for an arrival: the original
// filename prefixed with the processing timestamp, under the route path. A
// payload uploaded without a .json extension keeps its name and gains one.
func StampedKey(routePath string, originalKey string, processedAt time.Time) string {

	name := path.Base(originalKey)
	if !strings.HasSuffix(name, ".json") {
		name += ".json"
	}

	return fmt.Sprintf("%s/%s-%s", routePath, Stamp(processedAt), name)
}

// ErrorKey builds the quarantine key for a rejected arrival. The original
// filename is not preserved in the key; it remains recoverable from the
// object itself and the relay log.
func ErrorKey(routePath string, reasonPrefix string, processedAt time.Time) string {
	return fmt.Sprintf("%s/%s/%s-%s.json", routePath, ErrorsSubpath, reasonPrefix, Stamp(processedAt))
}
