package relay

import (
	"encoding/json"
	"fmt"
	"time"
)

// fakeStore is an in-memory ObjectStore for exercising the pipeline without
// AWS. Individual copy and delete calls can be failed by key to reach the
// error paths.
type fakeStore struct {
	objects    map[string][]byte
	tags       map[string]map[string]string
	failCopy   map[string]error // keyed by source key
	failDelete map[string]error
	copies     []string
	deletes    []string
	gets       []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects:    make(map[string][]byte),
		tags:       make(map[string]map[string]string),
		failCopy:   make(map[string]error),
		failDelete: make(map[string]error),
	}
}

func (f *fakeStore) put(key string, body string) {
	f.objects[key] = []byte(body)
}

func (f *fakeStore) has(key string) bool {
	_, ok := f.objects[key]
	return ok
}

// keysUnder lists stored keys beneath prefix, in no particular order.
func (f *fakeStore) keysUnder(prefix string) []string {
	var keys []string
	for key := range f.objects {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			keys = append(keys, key)
		}
	}
	return keys
}

func (f *fakeStore) GetObject(bucket string, key string) ([]byte, error) {
	f.gets = append(f.gets, key)
	body, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such object %s/%s", bucket, key)
	}
	return body, nil
}

func (f *fakeStore) CopyObject(bucket string, sourceKey string, destKey string, tags map[string]string) error {
	if err := f.failCopy[sourceKey]; err != nil {
		return err
	}
	body, ok := f.objects[sourceKey]
	if !ok {
		return fmt.Errorf("no such object %s/%s", bucket, sourceKey)
	}
	f.objects[destKey] = body
	if len(tags) != 0 {
		copied := make(map[string]string, len(tags))
		for name, value := range tags {
			copied[name] = value
		}
		f.tags[destKey] = copied
	}
	f.copies = append(f.copies, sourceKey+" -> "+destKey)
	return nil
}

func (f *fakeStore) DeleteObject(bucket string, key string) error {
	if err := f.failDelete[key]; err != nil {
		return err
	}
	delete(f.objects, key)
	f.deletes = append(f.deletes, key)
	return nil
}

// fakeConsumer records decoded submissions, or fails them all.
type fakeConsumer struct {
	submissions []ConsumerPayload
	fail        error
}

func (f *fakeConsumer) Submit(id string, payload []byte) error {
	if f.fail != nil {
		return f.fail
	}
	var decoded ConsumerPayload
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return err
	}
	f.submissions = append(f.submissions, decoded)
	return nil
}

func (f *fakeConsumer) Target() string {
	return "fake:consumer"
}

// fixedClock pins the processing instant so generated keys are predictable.
func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
