// Package main is the entry point for the Taskdock MCP server.
//
// The Taskdock server implements a Model Context Protocol (MCP) server that
// runs containerized tasks: it stages declared inputs from durable object
// storage into a local staging area, runs the task command in an isolated
// container with bind-mounted paths under a timeout watchdog, captures the
// combined output stream, and stages the declared outputs back. The server
// supports both stdio and HTTP transports.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/taskdock/config"
	"github.com/isdmx/taskdock/logger"
	"github.com/isdmx/taskdock/mcpserver"
	"github.com/isdmx/taskdock/storage"
	"github.com/isdmx/taskdock/taskrun"
)

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Container runtime client
			taskrun.NewDockerClient,

			// Object store for staging inputs and outputs
			storage.NewFromConfig,

			// Task runner
			fx.Annotate(taskrun.NewFromConfig, fx.As(new(mcpserver.TaskExecutor))),

			// MCP Server
			mcpserver.New,
		),

		// Start the appropriate transport based on config
		fx.Invoke(
			func(cfg *config.Config, server *mcpserver.MCPServer) {
				switch cfg.Server.Transport {
				case "stdio":
					// Use fx to run this as a background task
					go func() {
						if err := server.ServeStdio(); err != nil {
							panic(err)
						}
					}()
				case "http":
					go func() {
						if err := server.ServeHTTP(); err != nil {
							panic(err)
						}
					}()
				default:
					panic("unsupported transport: " + cfg.Server.Transport)
				}
			},
		),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}
