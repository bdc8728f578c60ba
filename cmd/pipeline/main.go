package main

import (
	"context"
	"os"

	"github.com/hadijannat/dpp-simulation-playground-sub000/internal/bootstrap"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability"
	libLog "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
)

func main() {
	ctx := context.Background()

	// The zap logger needs the loaded config; startup failures go to stderr.
	bootLogger := libLog.NewGoLogger(libLog.LevelInfo)

	reliability.InitLocalEnvConfig()

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		bootLogger.Log(ctx, libLog.LevelError, "invalid configuration", libLog.Err(err))
		os.Exit(2)
	}

	svc, err := bootstrap.InitServers(ctx, cfg)
	if err != nil {
		bootLogger.Log(ctx, libLog.LevelError, "failed to start pipeline", libLog.Err(err))
		os.Exit(1)
	}

	if err := svc.Run(); err != nil {
		svc.Logger.Log(ctx, libLog.LevelError, "pipeline stopped with errors", libLog.Err(err))
		os.Exit(1)
	}
}
