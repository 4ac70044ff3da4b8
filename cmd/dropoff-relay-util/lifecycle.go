package main

import (
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/urfave/cli/v2"

	"github.com/uvalib/dropoff-relay-service/internal/relay"
)

func lifecycleCommand() *cli.Command {
	return &cli.Command{
		Name:  "lifecycle",
		Usage: "Render or apply the bucket expiration rules implied by the routing table",
		Flags: append(routesFlags(),
			&cli.StringFlag{
				Name:    "bucket",
				Usage:   "Drop-off bucket name",
				EnvVars: []string{"DROPOFF_BUCKET"},
			},
			&cli.BoolFlag{
				Name:  "apply",
				Usage: "Apply the rules to the bucket instead of printing them",
			},
		),
		Action: runLifecycle,
	}
}

// Retention is the bucket's job, not the relay's: the relay never deletes
// processed or quarantined objects itself. This command keeps the bucket's
// declarative expiration rules aligned with the routing table.
func runLifecycle(c *cli.Context) error {

	table, err := loadRoutes(c)
	if err != nil {
		return err
	}

	rules := lifecycleRules(table)

	if !c.Bool("apply") {
		rendered, err := json.MarshalIndent(rules, "", "   ")
		if err != nil {
			return err
		}
		fmt.Println(string(rendered))
		return nil
	}

	bucket := c.String("bucket")
	if len(bucket) == 0 {
		return fmt.Errorf("--apply requires --bucket")
	}

	sess, err := session.NewSession()
	if err != nil {
		return err
	}

	_, err = s3.New(sess).PutBucketLifecycleConfiguration(&s3.PutBucketLifecycleConfigurationInput{
		Bucket: aws.String(bucket),
		LifecycleConfiguration: &s3.BucketLifecycleConfiguration{
			Rules: rules,
		},
	})
	if err != nil {
		return fmt.Errorf("applying lifecycle configuration to [%s]: %w", bucket, err)
	}

	fmt.Printf("applied %d rule(s) to [%s]\n", len(rules), bucket)
	return nil
}

// lifecycleRules builds one expiration rule per route, covering everything
// beneath the route path: processed objects and the errors subfolder age
// out together.
func lifecycleRules(table *relay.RouteTable) []*s3.LifecycleRule {

	routes := table.Routes()
	rules := make([]*s3.LifecycleRule, 0, len(routes))
	for _, route := range routes {
		rules = append(rules, &s3.LifecycleRule{
			ID:     aws.String(fmt.Sprintf("dropoff-expire-%s", route.Path)),
			Status: aws.String(s3.ExpirationStatusEnabled),
			Filter: &s3.LifecycleRuleFilter{
				Prefix: aws.String(route.Path + "/"),
			},
			Expiration: &s3.LifecycleExpiration{
				Days: aws.Int64(int64(route.ObjectLifetimeDays)),
			},
		})
	}

	return rules
}

//
// end of file
//
