package relay

import (
	"errors"
	"fmt"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/uvalib/dropoff-relay-service/internal/storage"
)

var (
	ErrCopyFailed   = errors.New("object copy failed")
	ErrDeleteFailed = errors.New("object delete failed after copy")
)

// S3 tag values cap at 256 characters; reasons are clipped before encoding
// so the worst-case escaped form still fits.
const maxReasonLength = 80

// Relocator renames objects inside the drop-off bucket. The store has no
// rename primitive, so a relocation is copy-then-delete: two fallible steps
// with a window where both keys exist. If the delete fails the window
// persists, but the destination already carries a processed name, so the
// surviving source can at worst fail again visibly, never dispatch twice.
type Relocator struct {
	store  storage.ObjectStore
	bucket string
}

// NewRelocator creates a relocator operating on the given bucket.
func NewRelocator(store storage.ObjectStore, bucket string) *Relocator {
	return &Relocator{store: store, bucket: bucket}
}

// Stamp relocates an arrival to its canonical processed key, which it
// returns.
func (r *Relocator) Stamp(route RouteConfig, key string, processedAt time.Time) (string, error) {

	newKey := StampedKey(route.Path, key, processedAt)
	if err := r.relocate(key, newKey, nil); err != nil {
		return "", err
	}

	return newKey, nil
}

// Quarantine moves a rejected arrival under the route's errors subfolder
// and tags it with the URL-encoded rejection reason. The object is kept for
// inspection and ages out with the route's retention; it is never deleted
// outright.
func (r *Relocator) Quarantine(route RouteConfig, key string, reasonPrefix string, reason string, processedAt time.Time) (string, error) {

	reason = clipReason(reason)

	errorKey := ErrorKey(route.Path, reasonPrefix, processedAt)
	tags := map[string]string{ErrorReasonTag: url.QueryEscape(reason)}
	if err := r.relocate(key, errorKey, tags); err != nil {
		return "", err
	}

	return errorKey, nil
}

// relocate moves bucket/oldKey to bucket/newKey. A delete failure after a
// successful copy surfaces as ErrDeleteFailed so callers can tell the
// half-moved state from a clean miss.
func (r *Relocator) relocate(oldKey string, newKey string, tags map[string]string) error {

	if err := r.store.CopyObject(r.bucket, oldKey, newKey, tags); err != nil {
		return fmt.Errorf("%w: [%s] to [%s]: %v", ErrCopyFailed, oldKey, newKey, err)
	}

	if err := r.store.DeleteObject(r.bucket, oldKey); err != nil {
		log.Error().Msgf("delete of [%s] failed after copy to [%s], both objects exist", oldKey, newKey)
		return fmt.Errorf("%w: [%s] (copied to [%s]): %v", ErrDeleteFailed, oldKey, newKey, err)
	}

	return nil
}

// clipReason bounds a rejection reason to the tag budget. The cut must land
// on a rune boundary: schema predicates echo payload fragments, and a split
// rune would leave an invalid tail in the encoded tag.
func clipReason(reason string) string {

	if len(reason) <= maxReasonLength {
		return reason
	}

	cut := maxReasonLength
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}

	return reason[:cut]
}
