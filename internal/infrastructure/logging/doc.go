// Package logging provides structured logging using uber/zap.
//
// Two modes cover the orchestrator's needs: JSON output for normal
// operation and colored console output for development. An optional
// file sink mirrors everything into the data directory so a desktop
// install keeps logs across restarts.
//
// Example Usage:
//
//	logger, err := logging.New(logging.DefaultConfig().WithFile(logsDir))
//	if err != nil {
//		return err
//	}
//	vcsLog := logger.Component("vcs")
//	vcsLog.Error("clone failed", zap.Error(err))
package logging
