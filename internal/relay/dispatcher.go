package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/lambda"
	"github.com/aws/aws-sdk-go/service/lambda/lambdaiface"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/uvalib/virgo4-sqs-sdk/awssqs"
)

var (
	ErrUnknownConsumer   = errors.New("consumer id is not registered")
	ErrBadConsumerScheme = errors.New("consumer id must be lambda:<function> or sqs:<queue>")
	ErrDispatchRejected  = errors.New("consumer submission was not accepted")
)

// consumer id schemes
const (
	SchemeLambda = "lambda"
	SchemeSQS    = "sqs"
)

// the source attribute stamped on queue submissions
const dispatchSource = "dropoff-relay"

// ParseConsumerID splits a consumer id into its scheme and target. The
// routing table validates ids through this at load time, so a misspelled
// scheme fails before the service ever polls.
func ParseConsumerID(consumerID string) (string, string, error) {

	scheme, target, found := strings.Cut(consumerID, ":")
	if !found || len(target) == 0 {
		return "", "", fmt.Errorf("%w: [%s]", ErrBadConsumerScheme, consumerID)
	}

	switch scheme {
	case SchemeLambda, SchemeSQS:
		return scheme, target, nil
	}

	return "", "", fmt.Errorf("%w: [%s]", ErrBadConsumerScheme, consumerID)
}

// ConsumerPayload is the envelope a downstream consumer receives for each
// relocated object. The field names are wire contract; consumers in other
// languages decode them by name.
type ConsumerPayload struct {
	Path               string             `json:"path"`
	Bucket             string             `json:"bucket"`
	Key                string             `json:"key"`
	ProcessingMetadata ProcessingMetadata `json:"processingMetadata"`
}

// ProcessingMetadata records when and by what the object was processed.
type ProcessingMetadata struct {
	ProcessedAt      string `json:"processedAt"`
	ProcessorVersion string `json:"processorVersion"`
}

// Consumer submits one payload to a single downstream target. Submission is
// fire and forget: implementations wait for acceptance only, never for the
// consumer's own processing.
type Consumer interface {
	Submit(id string, payload []byte) error
	Target() string
}

// Dispatcher owns the consumer registry and fires the per-record
// notification after a successful relocation.
type Dispatcher struct {
	consumers map[string]Consumer
	version   string
}

// NewDispatcher creates an empty dispatcher. The version string is stamped
// into every payload's processing metadata.
func NewDispatcher(version string) *Dispatcher {
	return &Dispatcher{
		consumers: make(map[string]Consumer),
		version:   version,
	}
}

// Register binds a routing-table consumer id to its transport. Registration
// happens once at startup; the registry is read-only afterwards.
func (d *Dispatcher) Register(consumerID string, consumer Consumer) {
	d.consumers[consumerID] = consumer
}

// Dispatch submits the notification for a relocated object. There is no
// retry and no delivery tracking here; a submission failure is the caller's
// to surface.
func (d *Dispatcher) Dispatch(bucket string, key string, consumerID string, processedAt time.Time) error {

	consumer, ok := d.consumers[consumerID]
	if !ok {
		return fmt.Errorf("%w: [%s]", ErrUnknownConsumer, consumerID)
	}

	payload := ConsumerPayload{
		Path:   fmt.Sprintf("s3://%s/%s", bucket, key),
		Bucket: bucket,
		Key:    key,
		ProcessingMetadata: ProcessingMetadata{
			ProcessedAt:      processedAt.UTC().Format(time.RFC3339Nano),
			ProcessorVersion: d.version,
		},
	}

	buffer, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling consumer payload for [%s]: %w", key, err)
	}

	id := uuid.NewString()
	if err := consumer.Submit(id, buffer); err != nil {
		return fmt.Errorf("submitting [%s] to %s: %w", key, consumer.Target(), err)
	}

	log.Debug().Msgf("dispatch %s accepted by %s for [%s]", id, consumer.Target(), key)
	return nil
}

// BuildConsumer resolves a routing-table consumer id to its transport. Ids
// are scheme-prefixed: lambda:<function> invokes a function asynchronously,
// sqs:<queue> submits to a queue. Queue names resolve to handles here, so a
// misspelled queue fails at startup rather than on the first dispatch.
func BuildConsumer(consumerID string, lambdaSvc lambdaiface.LambdaAPI, sqsSvc awssqs.AWS_SQS) (Consumer, error) {

	scheme, target, err := ParseConsumerID(consumerID)
	if err != nil {
		return nil, err
	}

	if scheme == SchemeLambda {
		return &lambdaConsumer{svc: lambdaSvc, functionName: target}, nil
	}

	handle, err := sqsSvc.QueueHandle(target)
	if err != nil {
		return nil, fmt.Errorf("resolving consumer queue [%s]: %w", target, err)
	}
	return &queueConsumer{sqsSvc: sqsSvc, handle: handle, queueName: target}, nil
}

// lambdaConsumer invokes a function with the Event invocation type, which
// returns as soon as the platform accepts the event for delivery.
type lambdaConsumer struct {
	svc          lambdaiface.LambdaAPI
	functionName string
}

func (c *lambdaConsumer) Submit(id string, payload []byte) error {

	output, err := c.svc.Invoke(&lambda.InvokeInput{
		FunctionName:   aws.String(c.functionName),
		InvocationType: aws.String(lambda.InvocationTypeEvent),
		Payload:        payload,
	})
	if err != nil {
		return err
	}

	// asynchronous acceptance is any 2xx (202 in practice)
	if code := aws.Int64Value(output.StatusCode); code < 200 || code > 299 {
		return fmt.Errorf("%w: status %d", ErrDispatchRejected, code)
	}

	return nil
}

func (c *lambdaConsumer) Target() string {
	return "lambda:" + c.functionName
}

// queueConsumer submits payloads to a consumer queue, attribute style
// matching the other services that feed these queues.
type queueConsumer struct {
	sqsSvc    awssqs.AWS_SQS
	handle    awssqs.QueueHandle
	queueName string
}

func (c *queueConsumer) Submit(id string, payload []byte) error {

	attributes := make([]awssqs.Attribute, 0, 3)
	attributes = append(attributes, awssqs.Attribute{Name: "id", Value: id})
	attributes = append(attributes, awssqs.Attribute{Name: "type", Value: "application/json"})
	attributes = append(attributes, awssqs.Attribute{Name: "source", Value: dispatchSource})

	messages := []awssqs.Message{{Attribs: attributes, Payload: payload}}

	opStatus, err := c.sqsSvc.BatchMessagePut(c.handle, messages)
	if err != nil {
		if err != awssqs.ErrOneOrMoreOperationsUnsuccessful {
			return err
		}
	}

	// check the operation results
	for ix, op := range opStatus {
		if op == false {
			return fmt.Errorf("%w: message %d failed to send to [%s]", ErrDispatchRejected, ix, c.queueName)
		}
	}

	return nil
}

func (c *queueConsumer) Target() string {
	return "sqs:" + c.queueName
}
