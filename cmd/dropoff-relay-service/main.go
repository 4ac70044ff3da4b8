package main

import (
	"os"
	"time"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/lambda"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/uvalib/virgo4-sqs-sdk/awssqs"

	"github.com/uvalib/dropoff-relay-service/internal/relay"
	"github.com/uvalib/dropoff-relay-service/internal/storage"
)

//
// main entry point
//
func main() {

	zerolog.TimeFieldFormat = time.RFC3339Nano

	log.Info().Msgf("===> %s service starting up (version: %s) <===", os.Args[0], Version())

	// Get config params and use them to init service context. Any issues are fatal
	cfg := LoadConfiguration()

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	// load our AWS sqs helper object
	aws, err := awssqs.NewAwsSqs(awssqs.AwsSqsConfig{MessageBucketName: cfg.MessageBucketName})
	fatalIfError(err)

	// one session backs both the object store and the lambda dispatch client
	sess, err := session.NewSession()
	fatalIfError(err)
	store := storage.NewS3Store(sess)
	lambdaSvc := lambda.New(sess)

	// get the queue handle from the queue name
	inQueueHandle, err := aws.QueueHandle(cfg.InQueueName)
	fatalIfError(err)

	// register every consumer the routing table names; a bad consumer id
	// fails here, not on the first dispatch
	dispatcher := relay.NewDispatcher(Version())
	for _, route := range cfg.Routes.Routes() {
		consumer, err := relay.BuildConsumer(route.ConsumerID, lambdaSvc, aws)
		fatalIfError(err)
		dispatcher.Register(route.ConsumerID, consumer)
	}

	validator := relay.NewValidator(store, cfg.BucketName, nil)
	relocator := relay.NewRelocator(store, cfg.BucketName)
	processor := relay.NewProcessor(cfg.BucketName, cfg.Routes, validator, relocator, dispatcher, nil)

	startHealthcheck(cfg.HealthcheckPort)

	for {
		// wait for one or more arrival notifications
		messages, err := aws.BatchMessageGet(inQueueHandle, awssqs.MAX_SQS_BLOCK_COUNT, time.Duration(cfg.PollTimeOut)*time.Second)
		fatalIfError(err)

		if len(messages) == 0 {
			continue
		}

		log.Info().Msgf("received %d notification(s)", len(messages))

		for _, message := range messages {

			arrivals, err := relay.DecodeArrivals([]byte(message.Payload))
			if err != nil {
				// a payload that does not decode today never will; deleting
				// it below is the only way it leaves the queue
				log.Error().Err(err).Msg("undecodable notification, discarding it")
			} else if len(arrivals) == 0 {
				log.Info().Msg("not an interesting notification, ignoring it")
			} else {
				processor.ProcessBatch(arrivals)
			}

			// every record reached a terminal state, the notification can go
			delMessages := make([]awssqs.Message, 0, 1)
			delMessages = append(delMessages, awssqs.Message{ReceiptHandle: message.ReceiptHandle})
			opStatus, err := aws.BatchMessageDelete(inQueueHandle, delMessages)
			if err != nil {
				if err != awssqs.ErrOneOrMoreOperationsUnsuccessful {
					fatalIfError(err)
				}
			}

			// check the operation results
			for ix, op := range opStatus {
				if op == false {
					log.Error().Msgf("message %d failed to delete", ix)
				}
			}
		}
	}
}

func fatalIfError(err error) {
	if err != nil {
		log.Fatal().Err(err).Msg("terminating")
	}
}

//
// end of file
//
