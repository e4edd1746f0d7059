package server

import (
	"time"

	"auction-engine/utils"

	"github.com/thejerf/suture/v4"
)

// NewSupervisor builds the root supervisor. Restarts and backoff are logged
// through the application logger.
func NewSupervisor(name string, shutdownTimeout time.Duration) *suture.Supervisor {
	return suture.New(name, suture.Spec{
		EventHook:        logEvent,
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          shutdownTimeout,
	})
}

func logEvent(e suture.Event) {
	fields := e.Map()
	switch e.Type() {
	case suture.EventTypeServicePanic, suture.EventTypeBackoff:
		utils.Error("supervisor: "+e.String(), fields)
	case suture.EventTypeResume:
		utils.Info("supervisor: "+e.String(), fields)
	default:
		utils.Warn("supervisor: "+e.String(), fields)
	}
}
