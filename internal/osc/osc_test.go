package osc

import "github.com/schuyler/corazonn/internal/logger"

func testLogger() *logger.Logger {
	return logger.New(logger.LevelOff, nil)
}
