package main

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// startHealthcheck exposes the liveness and version endpoints the platform
// probes. The listener runs for the life of the process.
func startHealthcheck(port int) {

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthcheck", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"alive": "true"})
	})

	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"build": Version()})
	})

	go func() {
		if err := router.Run(fmt.Sprintf(":%d", port)); err != nil {
			log.Error().Err(err).Msg("healthcheck listener failed")
		}
	}()
}

//
// end of file
//
