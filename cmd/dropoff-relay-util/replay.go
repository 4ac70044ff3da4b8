package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/uvalib/virgo4-sqs-sdk/awssqs"

	"github.com/uvalib/dropoff-relay-service/internal/relay"
)

func replayCommand() *cli.Command {
	return &cli.Command{
		Name:  "replay",
		Usage: "Re-send the arrival notification for an existing object",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "bucket",
				Usage:    "Drop-off bucket name",
				EnvVars:  []string{"DROPOFF_BUCKET"},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "queue",
				Usage:    "Inbound notification queue name",
				EnvVars:  []string{"DROPOFF_IN_QUEUE"},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "message-bucket",
				Usage:    "Bucket backing oversized queue messages",
				EnvVars:  []string{"DROPOFF_MESSAGE_BUCKET"},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "key",
				Usage:    "Object key to replay",
				Required: true,
			},
		},
		Action: runReplay,
	}
}

// Replay covers the operational gap left by fire and forget delivery: when
// a notification was lost or a consumer was down, re-announcing the object
// pushes it back through the normal pipeline.
func runReplay(c *cli.Context) error {

	payload, err := relay.EncodeNotification(c.String("bucket"), c.String("key"), 0, time.Now())
	if err != nil {
		return err
	}

	cfg, err := queueConfig(c.String("message-bucket"))
	if err != nil {
		return err
	}

	aws, err := awssqs.NewAwsSqs(cfg)
	if err != nil {
		return err
	}

	handle, err := aws.QueueHandle(c.String("queue"))
	if err != nil {
		return err
	}

	messages := []awssqs.Message{{Payload: payload}}
	opStatus, err := aws.BatchMessagePut(handle, messages)
	if err != nil {
		if err != awssqs.ErrOneOrMoreOperationsUnsuccessful {
			return err
		}
	}

	// check the operation results
	for _, op := range opStatus {
		if op == false {
			return fmt.Errorf("notification failed to send")
		}
	}

	fmt.Printf("replayed notification for s3://%s/%s\n", c.String("bucket"), c.String("key"))
	return nil
}

// queueConfig builds the SQS client configuration. The SDK will not
// construct without a message bucket name even though replayed notifications
// never approach the oversized payload limit. A required flag still passes
// through an environment variable set to the empty string, so blank is
// checked here.
func queueConfig(messageBucket string) (awssqs.AwsSqsConfig, error) {

	if messageBucket == "" {
		return awssqs.AwsSqsConfig{}, fmt.Errorf("message bucket name is required")
	}

	return awssqs.AwsSqsConfig{MessageBucketName: messageBucket}, nil
}

//
// end of file
//
