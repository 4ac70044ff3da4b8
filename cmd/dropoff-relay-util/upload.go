package main

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/urfave/cli/v2"
)

func uploadCommand() *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "Drop a local payload file under a route path in the bucket",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "bucket",
				Usage:    "Drop-off bucket name",
				EnvVars:  []string{"DROPOFF_BUCKET"},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "route",
				Usage:    "Route path to drop the file under",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "Object name (defaults to the file name)",
			},
		},
		Action: runUpload,
	}
}

func runUpload(c *cli.Context) error {

	if c.NArg() != 1 {
		return fmt.Errorf("exactly one file argument is required")
	}
	local := c.Args().First()

	file, err := os.Open(local)
	if err != nil {
		return err
	}
	defer file.Close()

	name := c.String("name")
	if len(name) == 0 {
		name = filepath.Base(local)
	}
	key := path.Join(c.String("route"), name)

	sess, err := session.NewSession()
	if err != nil {
		return err
	}

	uploader := s3manager.NewUploader(sess)
	result, err := uploader.Upload(&s3manager.UploadInput{
		Bucket:      aws.String(c.String("bucket")),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("uploading [%s]: %w", local, err)
	}

	fmt.Printf("uploaded %s to %s\n", local, result.Location)
	return nil
}

//
// end of file
//
