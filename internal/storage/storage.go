package storage

// ObjectStore captures the narrow set of bucket operations the relay needs.
// The production implementation (s3.go) talks to the AWS S3 API; tests
// substitute in-memory fakes.
type ObjectStore interface {

	// GetObject downloads the complete object body into memory.
	GetObject(bucket string, key string) ([]byte, error)

	// CopyObject copies bucket/sourceKey to bucket/destKey. A non-empty tag
	// set replaces the destination's tags; nil leaves the destination untagged.
	CopyObject(bucket string, sourceKey string, destKey string, tags map[string]string) error

	// DeleteObject removes the object.
	DeleteObject(bucket string, key string) error
}
