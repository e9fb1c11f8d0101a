// Package logging provides the structured logger used by the facilitator
// service (cmd/facilitator).
package logging

import "go.uber.org/zap"

// New builds a SugaredLogger appropriate for the given environment.
// "production" gets JSON output at info level; anything else gets
// human-readable console output at debug level.
func New(environment string) *zap.SugaredLogger {
	var logger *zap.Logger
	var err error
	if environment == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		logger = zap.NewNop()
	}
	return logger.Sugar()
}
