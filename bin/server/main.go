package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/zond/juicerpg"
	"github.com/zond/juicerpg/server"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	config, err := server.ConfigFromEnv()
	if err != nil {
		log.Fatal(err)
	}

	flag.StringVar(&config.ProjectDir, "project", config.ProjectDir, "Project directory with game.json, reactions/ and plugins/.")
	flag.StringVar(&config.StateDir, "state", config.StateDir, "Where to keep save slots and the plugin catalogue.")
	flag.StringVar(&config.ConsoleAddr, "console", config.ConsoleAddr, "Where to listen to SSH console connections, empty to disable.")
	flag.StringVar(&config.HostKeyPath, "hostkey", config.HostKeyPath, "Console host key, generated if missing.")
	flag.IntVar(&config.FPS, "fps", config.FPS, "Frames per second.")
	flag.StringVar(&config.LogFile, "log", config.LogFile, "Rotated log file, stderr if empty.")

	flag.Parse()

	logger := log.Default()
	if config.LogFile != "" {
		logger = log.New(io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   config.LogFile,
			MaxSize:    config.LogMaxSizeMB,
			MaxBackups: config.LogMaxBackups,
		}), "", log.LstdFlags)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := server.New(config, logger).Start(ctx); err != nil {
		logger.Fatalf("%v\n%s", err, juicerpg.StackTrace(err))
	}
}
