package relay

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Arrival is one object-created record extracted from a bucket notification.
type Arrival struct {
	Bucket    string
	Key       string
	Size      int64
	EventTime time.Time
}

// the wire shape of a bucket event notification
type s3Events struct {
	Records []s3EventRecord `json:"Records"`
}

type s3EventRecord struct {
	EventName string   `json:"eventName"`
	EventTime string   `json:"eventTime"`
	S3        s3Record `json:"s3"`
}

type s3Record struct {
	Bucket s3BucketRecord `json:"bucket"`
	Object s3ObjectRecord `json:"object"`
}

type s3BucketRecord struct {
	Name string `json:"name"`
}

type s3ObjectRecord struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

// DecodeArrivals extracts the arrivals announced by one notification
// payload. A payload with no records (s3:TestEvent and other bucket chatter)
// decodes to an empty slice without error. Object keys arrive query-encoded
// and are unescaped here; nothing downstream sees an encoded key.
func DecodeArrivals(payload []byte) ([]Arrival, error) {

	events := s3Events{}
	if err := json.Unmarshal(payload, &events); err != nil {
		return nil, fmt.Errorf("notification payload decode: %w", err)
	}

	arrivals := make([]Arrival, 0, len(events.Records))
	for _, record := range events.Records {

		key, err := url.QueryUnescape(record.S3.Object.Key)
		if err != nil {
			log.Warn().Msgf("object key [%s] is not query encoded, using it verbatim", record.S3.Object.Key)
			key = record.S3.Object.Key
		}

		// the event time is informational; a missing or malformed one is not
		// a reason to drop the record
		eventTime, err := time.Parse(time.RFC3339, record.EventTime)
		if err != nil {
			eventTime = time.Time{}
		}

		arrivals = append(arrivals, Arrival{
			Bucket:    record.S3.Bucket.Name,
			Key:       key,
			Size:      record.S3.Object.Size,
			EventTime: eventTime,
		})
	}

	return arrivals, nil
}

// EncodeNotification builds the single-record notification payload that
// announces key's arrival. Used to replay lost events through the inbound
// queue; the relay itself only decodes.
func EncodeNotification(bucket string, key string, size int64, eventTime time.Time) ([]byte, error) {

	events := s3Events{
		Records: []s3EventRecord{{
			EventName: "ObjectCreated:Put",
			EventTime: eventTime.UTC().Format(time.RFC3339),
			S3: s3Record{
				Bucket: s3BucketRecord{Name: bucket},
				Object: s3ObjectRecord{Key: encodeKey(key), Size: size},
			},
		}},
	}

	return json.Marshal(events)
}

// encodeKey query-encodes each segment of an object key, matching the
// encoding bucket notifications use. Separators stay literal.
func encodeKey(key string) string {
	segments := strings.Split(key, "/")
	for ix, segment := range segments {
		segments[ix] = url.QueryEscape(segment)
	}
	return strings.Join(segments, "/")
}
