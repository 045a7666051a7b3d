// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package implements an MCP-compliant server that exposes the
// run_task tool for containerized task execution. It uses the
// mark3labs/mcp-go library to handle the protocol details.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/taskdock/config"
	"github.com/isdmx/taskdock/taskrun"
)

// TaskExecutor runs one task to completion.
type TaskExecutor interface {
	Execute(ctx context.Context, spec *taskrun.TaskSpec) (*taskrun.ExecutionResult, error)
}

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	runner    TaskExecutor
	mcpServer *server.MCPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, runner TaskExecutor) (*MCPServer, error) {
	s := &MCPServer{
		config: cfg,
		logger: logger,
		runner: runner,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", s.config.Server.Transport),
		zap.Int("server.http_port", s.config.Server.HTTPPort),
		zap.String("staging.dir", s.config.Staging.Dir),
		zap.Int("runner.default_timeout_sec", s.config.Runner.DefaultTimeoutSec),
		zap.Int("runner.wait_timeout_sec", s.config.Runner.WaitTimeoutSec),
		zap.String("storage.endpoint", s.config.Storage.Endpoint),
		zap.Bool("storage.use_ssl", s.config.Storage.UseSSL),
	)

	// Create the MCP server
	s.mcpServer = server.NewMCPServer("taskdock-runner", "A containerized task execution server")

	// Register the run_task tool
	s.registerRunTaskTool()

	return s, nil
}

// registerRunTaskTool registers the run_task tool
func (s *MCPServer) registerRunTaskTool() {
	tool := mcp.Tool{
		Name:        "run_task",
		Description: "Run a command in an isolated container with inputs staged from durable storage and outputs staged back",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "Task name used in logs and error messages",
				},
				"image": map[string]any{
					"type":        "string",
					"description": "Container image reference; an untagged reference gets :latest",
				},
				"command": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Command tokens to run in the container",
				},
				"internal_prefix": map[string]any{
					"type":        "string",
					"description": "Base path inside the container for inputs and outputs",
				},
				"storage_prefix": map[string]any{
					"type":        "string",
					"description": "Durable-storage base path, bucket/base/path",
				},
				"inputs": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Container-internal input paths; a trailing separator names a directory tree",
				},
				"outputs": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Container-internal output paths; '>' captures stdout, '>>' captures an always-written run log",
				},
				"timeout_sec": map[string]any{
					"type":        "integer",
					"description": "Wall-clock timeout in seconds (optional, 0 means the server default)",
				},
			},
			Required: []string{"name", "image", "command", "internal_prefix", "storage_prefix"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleRunTask)
}

// runTaskResponse is the JSON payload returned by the run_task tool.
type runTaskResponse struct {
	Success   bool     `json:"success"`
	ExitCode  int      `json:"exit_code"`
	Elapsed   string   `json:"elapsed"`
	TimedOut  bool     `json:"timed_out"`
	OOMKilled bool     `json:"oom_killed"`
	LogLines  int      `json:"log_lines"`
	Errors    []string `json:"errors,omitempty"`
}

// handleRunTask handles the run_task tool
func (s *MCPServer) handleRunTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logger.Info("task execution requested")

	// Extract parameters
	name, err := request.RequireString("name")
	if err != nil {
		return nil, fmt.Errorf("name parameter is required: %w", err)
	}

	image, err := request.RequireString("image")
	if err != nil {
		return nil, fmt.Errorf("image parameter is required: %w", err)
	}

	command, err := request.RequireStringSlice("command")
	if err != nil {
		return nil, fmt.Errorf("command parameter is required: %w", err)
	}

	internalPrefix, err := request.RequireString("internal_prefix")
	if err != nil {
		return nil, fmt.Errorf("internal_prefix parameter is required: %w", err)
	}

	storagePrefix, err := request.RequireString("storage_prefix")
	if err != nil {
		return nil, fmt.Errorf("storage_prefix parameter is required: %w", err)
	}

	spec := &taskrun.TaskSpec{
		Name:           name,
		Image:          image,
		Command:        command,
		InternalPrefix: internalPrefix,
		StoragePrefix:  storagePrefix,
		Inputs:         request.GetStringSlice("inputs", nil),
		Outputs:        request.GetStringSlice("outputs", nil),
		TimeoutSec:     request.GetInt("timeout_sec", 0),
	}

	s.logger.Info("executing task",
		zap.String("task", spec.Name),
		zap.String("image", spec.Image),
		zap.Int("inputs", len(spec.Inputs)),
		zap.Int("outputs", len(spec.Outputs)))

	result, err := s.runner.Execute(ctx, spec)
	if result == nil {
		s.logger.Error("task rejected", zap.Error(err), zap.String("task", spec.Name))
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf("Execution failed: %v", err),
				},
			},
			IsError: true,
		}, nil
	}
	if err != nil {
		// The run completed with recorded errors; the result still carries
		// the captured log and exit state.
		s.logger.Error("task failed", zap.Error(err), zap.String("task", spec.Name))
	}

	s.logger.Info("task execution completed",
		zap.String("task", spec.Name),
		zap.Int("exit_code", result.ExitCode),
		zap.Bool("timed_out", result.TimedOut),
		zap.Int("log_lines", len(result.Lines)))

	resp := runTaskResponse{
		Success:   result.Success(),
		ExitCode:  result.ExitCode,
		Elapsed:   result.Elapsed.Round(time.Millisecond).String(),
		TimedOut:  result.TimedOut,
		OOMKilled: result.OOMKilled,
		LogLines:  len(result.Lines),
		Errors:    result.Errors,
	}
	payload, marshalErr := json.Marshal(resp)
	if marshalErr != nil {
		return nil, fmt.Errorf("failed to encode result: %w", marshalErr)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(payload),
			},
		},
	}, nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
