package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/uvalib/dropoff-relay-service/internal/storage"
)

// Content rejection sentinels. The processor quarantines arrivals failing
// with either of these; any other validation error is an infrastructure
// failure and leaves the arrival untouched.
var (
	ErrInvalidJSON   = errors.New("invalid JSON payload")
	ErrInvalidSchema = errors.New("invalid payload schema")
)

// SchemaCheck is the structural predicate applied to parsed payloads on
// validating routes. The wired default is nil, which accepts every
// well-formed document; the intended document shape is deployment specific.
type SchemaCheck func(route RouteConfig, doc interface{}) error

// Validator downloads arrival content and checks it before the arrival is
// forwarded anywhere.
type Validator struct {
	store  storage.ObjectStore
	bucket string
	schema SchemaCheck
}

// NewValidator creates a validator reading from the given bucket. A nil
// schema check accepts any well-formed JSON document.
func NewValidator(store storage.ObjectStore, bucket string, schema SchemaCheck) *Validator {
	return &Validator{store: store, bucket: bucket, schema: schema}
}

// Validate downloads the complete payload and checks it: well-formed JSON
// first, then the route's structural predicate. Content failures are
// deterministic because uploaded objects are immutable, so there is no
// retry anywhere on this path.
func (v *Validator) Validate(route RouteConfig, key string) (interface{}, error) {

	payload, err := v.store.GetObject(v.bucket, key)
	if err != nil {
		return nil, err
	}

	var doc interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	if v.schema != nil {
		if err := v.schema(route, doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
		}
	}

	return doc, nil
}
