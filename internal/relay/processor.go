package relay

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrBucketMismatch = errors.New("notification origin does not match the configured bucket")

// OutcomeKind labels how far one arrival got.
type OutcomeKind string

const (
	OutcomeSkipped      OutcomeKind = "skipped"
	OutcomeRelocated    OutcomeKind = "relocated"
	OutcomeMovedToError OutcomeKind = "moved-to-error"
	OutcomeDispatched   OutcomeKind = "dispatched"
)

// Outcome records the terminal state of one arrival. Outcomes feed the
// per-record log line; nothing persists them.
type Outcome struct {
	Kind       OutcomeKind
	OldKey     string
	NewKey     string
	Reason     string
	ConsumerID string
}

// Processor drives the per-arrival decision procedure: guard the origin,
// classify against the routing table, skip reprocessing, validate where the
// route asks for it, relocate, dispatch.
type Processor struct {
	bucket     string
	routes     *RouteTable
	validator  *Validator
	relocator  *Relocator
	dispatcher *Dispatcher
	now        func() time.Time
}

// NewProcessor wires the arrival handler. The routing table is the immutable
// value loaded at startup. now is the processing clock; nil means wall
// clock, tests pin it.
func NewProcessor(bucket string, routes *RouteTable, validator *Validator, relocator *Relocator, dispatcher *Dispatcher, now func() time.Time) *Processor {

	if now == nil {
		now = time.Now
	}

	return &Processor{
		bucket:     bucket,
		routes:     routes,
		validator:  validator,
		relocator:  relocator,
		dispatcher: dispatcher,
		now:        now,
	}
}

// ProcessBatch handles the arrivals announced by one notification, in
// order. Records are strictly sequential and individually isolated: a
// failed record is logged with its key and the loop continues, so one bad
// arrival cannot take its batch neighbors down with it. There is no
// internal timeout; a pathologically large download holds up the records
// behind it until the message delivery deadline, an accepted limitation.
func (p *Processor) ProcessBatch(arrivals []Arrival) []Outcome {

	outcomes := make([]Outcome, 0, len(arrivals))
	for _, arrival := range arrivals {

		start := time.Now()
		outcome, err := p.processArrival(arrival)
		elapsed := time.Since(start)

		if err != nil {
			event := log.Error().Err(err).Str("key", arrival.Key).Dur("elapsed", elapsed)
			if outcome.Kind != "" {
				event = event.Str("outcome", string(outcome.Kind))
			}
			if outcome.NewKey != "" {
				event = event.Str("newKey", outcome.NewKey)
			}
			event.Msg("arrival failed")
		} else {
			event := log.Info().Str("key", arrival.Key).Int64("size", arrival.Size).
				Str("outcome", string(outcome.Kind)).Dur("elapsed", elapsed)
			if outcome.NewKey != "" {
				event = event.Str("newKey", outcome.NewKey)
			}
			if outcome.Reason != "" {
				event = event.Str("reason", outcome.Reason)
			}
			if outcome.ConsumerID != "" {
				event = event.Str("consumer", outcome.ConsumerID)
			}
			if !arrival.EventTime.IsZero() {
				event = event.Dur("sinceNotified", p.now().Sub(arrival.EventTime))
			}
			event.Msg("arrival processed")
		}

		outcomes = append(outcomes, outcome)
	}

	return outcomes
}

// processArrival runs the decision procedure for one arrival, converting a
// panic anywhere beneath it (a schema predicate, an SDK) into an ordinary
// record failure so the rest of the batch still runs.
func (p *Processor) processArrival(arrival Arrival) (outcome Outcome, err error) {

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing [%s]: %v", arrival.Key, r)
		}
	}()

	return p.handleArrival(arrival)
}

func (p *Processor) handleArrival(arrival Arrival) (Outcome, error) {

	// a mismatched origin is a deployment defect, not a bad record; it never
	// reaches classification
	if arrival.Bucket != p.bucket {
		return Outcome{}, fmt.Errorf("%w: notification reports [%s], service is bound to [%s]",
			ErrBucketMismatch, arrival.Bucket, p.bucket)
	}

	route := p.routes.Classify(arrival.Key)
	if route == nil {
		return Outcome{Kind: OutcomeSkipped, OldKey: arrival.Key, Reason: "no matching route"}, nil
	}

	// every relocation raises a fresh notification for the new key; this
	// guard is what keeps those notifications from cycling
	if p.routes.AlreadyProcessed(arrival.Key) {
		return Outcome{Kind: OutcomeSkipped, OldKey: arrival.Key, Reason: "already processed"}, nil
	}

	// one processing instant per record, shared by the generated key, the
	// dispatch metadata and any error key
	processedAt := p.now().UTC()

	if route.ValidateArrivals {
		_, err := p.validator.Validate(*route, arrival.Key)
		switch {
		case err == nil:
			// carry on to relocation

		case errors.Is(err, ErrInvalidJSON) || errors.Is(err, ErrInvalidSchema):
			reasonPrefix := ReasonInvalidJSON
			if errors.Is(err, ErrInvalidSchema) {
				reasonPrefix = ReasonInvalidSchema
			}
			errorKey, moveErr := p.relocator.Quarantine(*route, arrival.Key, reasonPrefix, err.Error(), processedAt)
			if moveErr != nil {
				return Outcome{}, fmt.Errorf("quarantining [%s]: %w", arrival.Key, moveErr)
			}
			return Outcome{Kind: OutcomeMovedToError, OldKey: arrival.Key, NewKey: errorKey, Reason: err.Error()}, nil

		default:
			// infrastructure failure, the arrival stays where it is
			return Outcome{}, fmt.Errorf("validating [%s]: %w", arrival.Key, err)
		}
	}

	newKey, err := p.relocator.Stamp(*route, arrival.Key, processedAt)
	if err != nil {
		return Outcome{}, fmt.Errorf("relocating [%s]: %w", arrival.Key, err)
	}

	if err := p.dispatcher.Dispatch(p.bucket, newKey, route.ConsumerID, processedAt); err != nil {
		// the object did reach its processed key; report that alongside the
		// dispatch failure so an operator can replay it
		return Outcome{Kind: OutcomeRelocated, OldKey: arrival.Key, NewKey: newKey},
			fmt.Errorf("dispatching [%s]: %w", newKey, err)
	}

	return Outcome{Kind: OutcomeDispatched, OldKey: arrival.Key, NewKey: newKey, ConsumerID: route.ConsumerID}, nil
}
