package relay

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

var processTime = time.Date(2026, 8, 23, 10, 15, 30, 0, time.UTC)

const processStamp = "20260823T101530.000000000Z"

const testRoutes = `[
	{"path": "orders", "objectLifetimeDays": 30, "validateArrivals": true, "consumerId": "lambda:order-loader"},
	{"path": "reports/daily", "objectLifetimeDays": 7, "consumerId": "sqs:report-queue"}
]`

type processorFixture struct {
	store     *fakeStore
	consumers map[string]*fakeConsumer
	processor *Processor
}

func newProcessorFixture(t *testing.T, routesBlob string, schema SchemaCheck) *processorFixture {
	t.Helper()

	table := mustParseRoutes(t, routesBlob)
	store := newFakeStore()

	dispatcher := NewDispatcher("v-test")
	consumers := make(map[string]*fakeConsumer)
	for _, route := range table.Routes() {
		if _, ok := consumers[route.ConsumerID]; !ok {
			consumer := &fakeConsumer{}
			consumers[route.ConsumerID] = consumer
			dispatcher.Register(route.ConsumerID, consumer)
		}
	}

	processor := NewProcessor("dropoff-bucket",
		table,
		NewValidator(store, "dropoff-bucket", schema),
		NewRelocator(store, "dropoff-bucket"),
		dispatcher,
		fixedClock(processTime))

	return &processorFixture{store: store, consumers: consumers, processor: processor}
}

func (fx *processorFixture) arrival(key string) Arrival {
	return Arrival{Bucket: "dropoff-bucket", Key: key, Size: int64(len(fx.store.objects[key]))}
}

func (fx *processorFixture) totalSubmissions() int {
	total := 0
	for _, consumer := range fx.consumers {
		total += len(consumer.submissions)
	}
	return total
}

func TestProcessDispatchesArrival(t *testing.T) {

	fx := newProcessorFixture(t, testRoutes, nil)
	fx.store.put("reports/daily/summary.json", `{"rows": 10}`)

	outcomes := fx.processor.ProcessBatch([]Arrival{fx.arrival("reports/daily/summary.json")})
	if len(outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(outcomes))
	}

	outcome := outcomes[0]
	if outcome.Kind != OutcomeDispatched {
		t.Fatalf("outcome %q, want dispatched", outcome.Kind)
	}
	wantKey := "reports/daily/" + processStamp + "-summary.json"
	if outcome.NewKey != wantKey {
		t.Fatalf("new key %q, want %q", outcome.NewKey, wantKey)
	}
	if outcome.ConsumerID != "sqs:report-queue" {
		t.Fatalf("consumer %q", outcome.ConsumerID)
	}

	// the bucket holds exactly the relocated object
	if fx.store.has("reports/daily/summary.json") {
		t.Fatal("original key still present")
	}
	if !fx.store.has(wantKey) {
		t.Fatal("relocated key missing")
	}

	// the consumer was told exactly the key that now exists
	consumer := fx.consumers["sqs:report-queue"]
	if len(consumer.submissions) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(consumer.submissions))
	}
	submitted := consumer.submissions[0]
	if submitted.Key != wantKey {
		t.Fatalf("submitted key %q, want %q", submitted.Key, wantKey)
	}
	if submitted.Path != "s3://dropoff-bucket/"+wantKey {
		t.Fatalf("submitted path %q", submitted.Path)
	}
	if !fx.store.has(submitted.Key) {
		t.Fatal("consumer was told a key that does not exist")
	}
}

func TestProcessValidatingRouteAcceptsValidJSON(t *testing.T) {

	fx := newProcessorFixture(t, testRoutes, nil)
	fx.store.put("orders/order-17.json", `{"type": "order", "id": 17}`)

	outcomes := fx.processor.ProcessBatch([]Arrival{fx.arrival("orders/order-17.json")})
	if outcomes[0].Kind != OutcomeDispatched {
		t.Fatalf("outcome %q, want dispatched", outcomes[0].Kind)
	}

	// the object now lives at exactly one key, a processed one, and the
	// consumer was told exactly that key
	keys := fx.store.keysUnder("orders/")
	if len(keys) != 1 {
		t.Fatalf("expected exactly 1 object under the route, got %v", keys)
	}
	if !IsStampedName(strings.TrimPrefix(keys[0], "orders/")) {
		t.Fatalf("surviving key %q does not carry the processed stamp", keys[0])
	}

	submissions := fx.consumers["lambda:order-loader"].submissions
	if len(submissions) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(submissions))
	}
	if submissions[0].Key != keys[0] {
		t.Fatalf("submitted key %q, object lives at %q", submissions[0].Key, keys[0])
	}
}

func TestProcessMalformedJSONQuarantined(t *testing.T) {

	fx := newProcessorFixture(t, testRoutes, nil)
	fx.store.put("orders/bad.json", `{this is not: valid JSON syntax,}`)

	outcomes := fx.processor.ProcessBatch([]Arrival{fx.arrival("orders/bad.json")})

	outcome := outcomes[0]
	if outcome.Kind != OutcomeMovedToError {
		t.Fatalf("outcome %q, want moved-to-error", outcome.Kind)
	}
	wantKey := "orders/errors/invalid-json-" + processStamp + ".json"
	if outcome.NewKey != wantKey {
		t.Fatalf("error key %q, want %q", outcome.NewKey, wantKey)
	}

	if fx.store.has("orders/bad.json") {
		t.Fatal("original key still present")
	}
	if !fx.store.has(wantKey) {
		t.Fatal("error key missing")
	}

	// the reason tag must record the JSON failure
	reason := fx.store.tags[wantKey][ErrorReasonTag]
	if !strings.Contains(reason, "JSON") {
		t.Fatalf("reason tag does not mention the JSON failure: %q", reason)
	}

	// nothing was dispatched
	if fx.totalSubmissions() != 0 {
		t.Fatalf("quarantined arrival dispatched %d time(s)", fx.totalSubmissions())
	}
}

func TestProcessSchemaRejectionQuarantined(t *testing.T) {

	requireType := func(route RouteConfig, doc interface{}) error {
		fields, ok := doc.(map[string]interface{})
		if !ok || fields["type"] == nil {
			return fmt.Errorf("missing required field [type]")
		}
		return nil
	}

	fx := newProcessorFixture(t, testRoutes, requireType)
	fx.store.put("orders/untyped.json", `{"id": 17}`)

	outcomes := fx.processor.ProcessBatch([]Arrival{fx.arrival("orders/untyped.json")})

	outcome := outcomes[0]
	if outcome.Kind != OutcomeMovedToError {
		t.Fatalf("outcome %q, want moved-to-error", outcome.Kind)
	}
	wantKey := "orders/errors/invalid-schema-" + processStamp + ".json"
	if outcome.NewKey != wantKey {
		t.Fatalf("error key %q, want %q", outcome.NewKey, wantKey)
	}
	if fx.totalSubmissions() != 0 {
		t.Fatal("schema-rejected arrival was dispatched")
	}
}

func TestProcessBucketMismatch(t *testing.T) {

	fx := newProcessorFixture(t, testRoutes, nil)
	fx.store.put("orders/report.json", `{"type": "order"}`)

	_, err := fx.processor.processArrival(Arrival{Bucket: "some-other-bucket", Key: "orders/report.json"})
	if !errors.Is(err, ErrBucketMismatch) {
		t.Fatalf("expected ErrBucketMismatch, got %v", err)
	}
	// both bucket names belong in the failure
	if !strings.Contains(err.Error(), "some-other-bucket") || !strings.Contains(err.Error(), "dropoff-bucket") {
		t.Fatalf("mismatch error does not name both buckets: %v", err)
	}

	// the arrival was left completely alone
	if !fx.store.has("orders/report.json") {
		t.Fatal("mismatched arrival was moved")
	}
	if len(fx.store.copies) != 0 || len(fx.store.deletes) != 0 || len(fx.store.gets) != 0 {
		t.Fatal("mismatched arrival touched the store")
	}
	if fx.totalSubmissions() != 0 {
		t.Fatal("mismatched arrival was dispatched")
	}
}

func TestProcessSkipsUnroutedKey(t *testing.T) {

	fx := newProcessorFixture(t, testRoutes, nil)
	fx.store.put("misc/stray.json", `{}`)

	outcomes := fx.processor.ProcessBatch([]Arrival{fx.arrival("misc/stray.json")})

	if outcomes[0].Kind != OutcomeSkipped {
		t.Fatalf("outcome %q, want skipped", outcomes[0].Kind)
	}
	if !fx.store.has("misc/stray.json") {
		t.Fatal("unrouted arrival was moved")
	}
	if len(fx.store.copies) != 0 || len(fx.store.deletes) != 0 || fx.totalSubmissions() != 0 {
		t.Fatal("unrouted arrival caused side effects")
	}
}

func TestProcessSkipsProcessedKeys(t *testing.T) {

	fx := newProcessorFixture(t, testRoutes, nil)
	stamped := "orders/" + processStamp + "-report.json"
	quarantined := "orders/errors/invalid-json-" + processStamp + ".json"
	fx.store.put(stamped, `{"type": "order"}`)
	fx.store.put(quarantined, `{broken`)

	outcomes := fx.processor.ProcessBatch([]Arrival{fx.arrival(stamped), fx.arrival(quarantined)})

	for ix, outcome := range outcomes {
		if outcome.Kind != OutcomeSkipped {
			t.Fatalf("outcome %d is %q, want skipped", ix, outcome.Kind)
		}
	}
	if len(fx.store.copies) != 0 || len(fx.store.deletes) != 0 || fx.totalSubmissions() != 0 {
		t.Fatal("processed keys caused side effects")
	}
}

// Redelivery of a notification whose object was already processed must not
// dispatch again. The original key is gone, so the record fails visibly
// instead; the relocated object and its single dispatch stand.
func TestProcessRedeliveredNotificationDoesNotRedispatch(t *testing.T) {

	fx := newProcessorFixture(t, testRoutes, nil)
	fx.store.put("orders/order-17.json", `{"type": "order"}`)

	arrival := fx.arrival("orders/order-17.json")
	outcomes := fx.processor.ProcessBatch([]Arrival{arrival})
	if outcomes[0].Kind != OutcomeDispatched {
		t.Fatalf("first delivery outcome %q", outcomes[0].Kind)
	}

	// the queue redelivers the identical notification
	outcomes = fx.processor.ProcessBatch([]Arrival{arrival})
	if outcomes[0].Kind == OutcomeDispatched {
		t.Fatal("redelivered notification dispatched again")
	}
	if fx.totalSubmissions() != 1 {
		t.Fatalf("expected exactly 1 dispatch, got %d", fx.totalSubmissions())
	}

	// and the notification raised by the relocation itself is skipped
	outcomes = fx.processor.ProcessBatch([]Arrival{fx.arrival("orders/" + processStamp + "-order-17.json")})
	if outcomes[0].Kind != OutcomeSkipped {
		t.Fatalf("relocation notification outcome %q, want skipped", outcomes[0].Kind)
	}
	if fx.totalSubmissions() != 1 {
		t.Fatalf("expected exactly 1 dispatch, got %d", fx.totalSubmissions())
	}
}

// Filenames with an empty stem or an embedded newline still yield stamped
// keys the reprocessing guard recognizes; the notification raised by their
// relocation must not dispatch a second time.
func TestProcessOddFilenamesDoNotRedispatch(t *testing.T) {

	keys := []string{
		"orders/.json",
		"orders/line\nbreak.json",
	}

	for _, key := range keys {
		fx := newProcessorFixture(t, testRoutes, nil)
		fx.store.put(key, `{"type": "order"}`)

		outcomes := fx.processor.ProcessBatch([]Arrival{fx.arrival(key)})
		if outcomes[0].Kind != OutcomeDispatched {
			t.Fatalf("[%s] first delivery outcome %q, want dispatched", key, outcomes[0].Kind)
		}
		relocated := outcomes[0].NewKey
		if !fx.store.has(relocated) {
			t.Fatalf("[%s] relocated object missing at %q", key, relocated)
		}

		// the relocated object raises its own notification
		outcomes = fx.processor.ProcessBatch([]Arrival{fx.arrival(relocated)})
		if outcomes[0].Kind != OutcomeSkipped {
			t.Fatalf("[%s] relocation notification outcome %q, want skipped", key, outcomes[0].Kind)
		}
		if fx.totalSubmissions() != 1 {
			t.Fatalf("[%s] expected exactly 1 dispatch, got %d", key, fx.totalSubmissions())
		}
	}
}

func TestProcessDeleteFailureDoesNotDispatch(t *testing.T) {

	fx := newProcessorFixture(t, testRoutes, nil)
	fx.store.put("reports/daily/summary.json", `{}`)
	fx.store.failDelete["reports/daily/summary.json"] = fmt.Errorf("access denied")

	outcomes := fx.processor.ProcessBatch([]Arrival{fx.arrival("reports/daily/summary.json")})

	// the record failed, both objects exist, and the consumer heard nothing
	if outcomes[0].Kind == OutcomeDispatched {
		t.Fatal("half-moved arrival was dispatched")
	}
	if !fx.store.has("reports/daily/summary.json") {
		t.Fatal("original key missing after failed delete")
	}
	copied := "reports/daily/" + processStamp + "-summary.json"
	if !fx.store.has(copied) {
		t.Fatal("copied key missing after failed delete")
	}
	if fx.totalSubmissions() != 0 {
		t.Fatal("half-moved arrival was dispatched")
	}

	// the copy raised its own notification; the guard must swallow it
	outcomes = fx.processor.ProcessBatch([]Arrival{fx.arrival(copied)})
	if outcomes[0].Kind != OutcomeSkipped {
		t.Fatalf("notification for the copy got outcome %q, want skipped", outcomes[0].Kind)
	}
	if fx.totalSubmissions() != 0 {
		t.Fatal("notification for the copy caused a dispatch")
	}
}

func TestProcessDispatchFailureLeavesObjectRelocated(t *testing.T) {

	fx := newProcessorFixture(t, testRoutes, nil)
	fx.store.put("reports/daily/summary.json", `{}`)
	fx.consumers["sqs:report-queue"].fail = fmt.Errorf("queue on fire")

	outcomes := fx.processor.ProcessBatch([]Arrival{fx.arrival("reports/daily/summary.json")})

	outcome := outcomes[0]
	if outcome.Kind != OutcomeRelocated {
		t.Fatalf("outcome %q, want relocated", outcome.Kind)
	}
	wantKey := "reports/daily/" + processStamp + "-summary.json"
	if outcome.NewKey != wantKey {
		t.Fatalf("new key %q", outcome.NewKey)
	}
	if !fx.store.has(wantKey) {
		t.Fatal("relocated object missing after dispatch failure")
	}
	if fx.store.has("reports/daily/summary.json") {
		t.Fatal("original key still present after relocation")
	}
}

// One notification can announce several arrivals; a failing record must not
// disturb its neighbors.
func TestProcessBatchIsolation(t *testing.T) {

	fx := newProcessorFixture(t, testRoutes, nil)
	fx.store.put("orders/bad.json", `{this is not: valid JSON syntax,}`)
	fx.store.put("reports/daily/good.json", `{"rows": 1}`)

	batch := []Arrival{
		{Bucket: "some-other-bucket", Key: "orders/foreign.json"},
		fx.arrival("orders/bad.json"),
		fx.arrival("reports/daily/good.json"),
	}

	outcomes := fx.processor.ProcessBatch(batch)
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}

	if outcomes[0].Kind == OutcomeDispatched {
		t.Fatal("mismatched arrival dispatched")
	}
	if outcomes[1].Kind != OutcomeMovedToError {
		t.Fatalf("malformed arrival outcome %q", outcomes[1].Kind)
	}
	if outcomes[2].Kind != OutcomeDispatched {
		t.Fatalf("healthy arrival outcome %q", outcomes[2].Kind)
	}
	if fx.totalSubmissions() != 1 {
		t.Fatalf("expected exactly 1 dispatch from the batch, got %d", fx.totalSubmissions())
	}
}

func TestProcessPanickingSchemaCheck(t *testing.T) {

	var calls int
	panicky := func(route RouteConfig, doc interface{}) error {
		calls++
		if calls == 1 {
			panic("predicate bug")
		}
		return nil
	}

	fx := newProcessorFixture(t, testRoutes, panicky)
	fx.store.put("orders/first.json", `{"type": "order"}`)
	fx.store.put("orders/second.json", `{"type": "order"}`)

	outcomes := fx.processor.ProcessBatch([]Arrival{fx.arrival("orders/first.json"), fx.arrival("orders/second.json")})

	// the panicking record failed in place, the next record still ran
	if outcomes[0].Kind == OutcomeDispatched || !fx.store.has("orders/first.json") {
		t.Fatal("panicking record was not contained")
	}
	if outcomes[1].Kind != OutcomeDispatched {
		t.Fatalf("record after panic got outcome %q", outcomes[1].Kind)
	}
}

// A failed download is an infrastructure problem; the arrival must stay put
// rather than move to the errors subfolder.
func TestProcessValidationDownloadFailureLeavesArrival(t *testing.T) {

	fx := newProcessorFixture(t, testRoutes, nil)

	// announced but not present in the store
	outcomes := fx.processor.ProcessBatch([]Arrival{{Bucket: "dropoff-bucket", Key: "orders/ghost.json"}})

	if outcomes[0].Kind != "" {
		t.Fatalf("outcome %q, want none", outcomes[0].Kind)
	}
	if len(fx.store.copies) != 0 || fx.totalSubmissions() != 0 {
		t.Fatal("missing arrival caused side effects")
	}
}

// Processed keys use one processing instant everywhere: the stamped key and
// the dispatch metadata must agree.
func TestProcessTimestampConsistency(t *testing.T) {

	fx := newProcessorFixture(t, testRoutes, nil)
	fx.store.put("reports/daily/summary.json", `{}`)

	fx.processor.ProcessBatch([]Arrival{fx.arrival("reports/daily/summary.json")})

	submitted := fx.consumers["sqs:report-queue"].submissions[0]
	processedAt, err := time.Parse(time.RFC3339Nano, submitted.ProcessingMetadata.ProcessedAt)
	if err != nil {
		t.Fatalf("processedAt does not parse: %v", err)
	}
	if !processedAt.Equal(processTime) {
		t.Fatalf("processedAt %v, want %v", processedAt, processTime)
	}
	if !strings.Contains(submitted.Key, Stamp(processTime)) {
		t.Fatalf("stamped key %q does not carry the processing instant", submitted.Key)
	}
}
