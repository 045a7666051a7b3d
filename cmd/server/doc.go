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
