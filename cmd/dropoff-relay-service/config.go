package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/uvalib/dropoff-relay-service/internal/relay"
)

// ServiceConfig defines all of the service configuration parameters
type ServiceConfig struct {
	BucketName        string            // the drop-off bucket this relay watches
	InQueueName       string            // queue receiving the bucket notifications
	MessageBucketName string            // oversize message bucket for the queue helper
	PollTimeOut       int64             // queue wait time in seconds
	HealthcheckPort   int               // port for the liveness listener
	LogLevel          string            // zerolog level name
	Routes            *relay.RouteTable // the ordered routing table
}

// LoadConfiguration will load the service configuration from the environment
// and return a pointer to it. Any failures are fatal.
func LoadConfiguration() *ServiceConfig {

	// a .env file is a local run convenience, its absence is normal
	_ = godotenv.Load()

	viper.SetDefault("DROPOFF_POLL_TIMEOUT", 20)
	viper.SetDefault("DROPOFF_HEALTHCHECK_PORT", 8080)
	viper.SetDefault("DROPOFF_LOG_LEVEL", "info")
	viper.AutomaticEnv()

	var cfg ServiceConfig
	cfg.BucketName = viper.GetString("DROPOFF_BUCKET")
	cfg.InQueueName = viper.GetString("DROPOFF_IN_QUEUE")
	cfg.MessageBucketName = viper.GetString("DROPOFF_MESSAGE_BUCKET")
	cfg.PollTimeOut = viper.GetInt64("DROPOFF_POLL_TIMEOUT")
	cfg.HealthcheckPort = viper.GetInt("DROPOFF_HEALTHCHECK_PORT")
	cfg.LogLevel = viper.GetString("DROPOFF_LOG_LEVEL")

	if len(cfg.BucketName) == 0 {
		log.Fatal().Msg("DROPOFF_BUCKET cannot be blank")
	}
	if len(cfg.InQueueName) == 0 {
		log.Fatal().Msg("DROPOFF_IN_QUEUE cannot be blank")
	}
	if len(cfg.MessageBucketName) == 0 {
		// the queue client refuses to construct without it
		log.Fatal().Msg("DROPOFF_MESSAGE_BUCKET cannot be blank")
	}

	blob, err := routesBlob()
	if err != nil {
		log.Fatal().Err(err).Msg("cannot read the routing table")
	}
	routes, err := relay.ParseRouteTable(blob)
	if err != nil {
		log.Fatal().Err(err).Msg("routing table is invalid")
	}
	cfg.Routes = routes

	log.Info().Msgf("[CONFIG] BucketName           = [%s]", cfg.BucketName)
	log.Info().Msgf("[CONFIG] InQueueName          = [%s]", cfg.InQueueName)
	log.Info().Msgf("[CONFIG] MessageBucketName    = [%s]", cfg.MessageBucketName)
	log.Info().Msgf("[CONFIG] PollTimeOut          = [%d]", cfg.PollTimeOut)
	log.Info().Msgf("[CONFIG] HealthcheckPort      = [%d]", cfg.HealthcheckPort)
	log.Info().Msgf("[CONFIG] LogLevel             = [%s]", cfg.LogLevel)
	for _, route := range cfg.Routes.Routes() {
		log.Info().Msgf("[CONFIG] Route                = [%s/ -> %s] (lifetime %d days, validate %t)",
			route.Path, route.ConsumerID, route.ObjectLifetimeDays, route.ValidateArrivals)
	}

	return &cfg
}

// routesBlob reads the routing table JSON from DROPOFF_ROUTES, or from the
// file named by DROPOFF_ROUTES_FILE for local runs.
func routesBlob() ([]byte, error) {

	if blob := viper.GetString("DROPOFF_ROUTES"); len(blob) != 0 {
		return []byte(blob), nil
	}
	if name := viper.GetString("DROPOFF_ROUTES_FILE"); len(name) != 0 {
		return os.ReadFile(name)
	}

	log.Fatal().Msg("one of DROPOFF_ROUTES or DROPOFF_ROUTES_FILE must be set")
	return nil, nil
}

//
// end of file
//
