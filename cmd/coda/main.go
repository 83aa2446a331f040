// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command coda is the CLI for the coda terminal coding assistant.
//
// Usage:
//
//	coda chat --provider anthropic --model claude-sonnet-4-20250514
//	coda serve --provider anthropic --model claude-sonnet-4-20250514 --port 8080
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/coda-run/coda/pkg/config"
	"github.com/coda-run/coda/pkg/event"
	"github.com/coda-run/coda/pkg/message"
	"github.com/coda-run/coda/pkg/model"
	"github.com/coda-run/coda/pkg/model/anthropic"
	"github.com/coda-run/coda/pkg/model/gemini"
	"github.com/coda-run/coda/pkg/model/ollama"
	"github.com/coda-run/coda/pkg/model/openai"
	"github.com/coda-run/coda/pkg/orchestrator"
	"github.com/coda-run/coda/pkg/server"
	"github.com/coda-run/coda/pkg/session"
	"github.com/coda-run/coda/pkg/subagent"
	"github.com/coda-run/coda/pkg/task"
	"github.com/coda-run/coda/pkg/tool"
	"github.com/coda-run/coda/pkg/tool/bashtool"
	"github.com/coda-run/coda/pkg/tool/controltool"
	"github.com/coda-run/coda/pkg/tool/filetool"
	"github.com/coda-run/coda/pkg/tool/mcptoolset"
	"github.com/coda-run/coda/pkg/tool/tasktool"
	"github.com/coda-run/coda/pkg/tool/todotool"
	"github.com/coda-run/coda/pkg/tool/webtool"
	"github.com/coda-run/coda/pkg/turn"
)

// CLI is coda's top-level command set.
type CLI struct {
	Chat ChatCmd `cmd:"" help:"Run an interactive session against stdin/stdout."`
	Serve ServeCmd `cmd:"" help:"Start the HTTP/SSE server."`

	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
}

// llmFlags is the provider/model selection shared by every subcommand.
type llmFlags struct {
	Provider string `help:"LLM provider (anthropic, openai, gemini, ollama)." default:"anthropic"`
	Model    string `help:"Model name." required:""`
	APIKey   string `name:"api-key" help:"API key (defaults to the provider's standard environment variable)."`
	BaseURL  string `name:"base-url" help:"Custom API base URL (openai, ollama)."`

	WorkingDir string `name:"working-dir" help:"Directory file tools resolve relative paths against." default:"."`

	Thinking       bool `help:"Enable extended thinking."`
	ThinkingBudget int  `name:"thinking-budget" help:"Token budget for thinking." default:"4096"`
	MaxTokens      int  `name:"max-tokens" help:"Max tokens for generation." default:"8192"`

	MCPURL string `name:"mcp-url" help:"MCP server URL for an additional toolset (sse/streamable-http)."`
}

func (f *llmFlags) resolveLLM(modelName string) (model.LLM, error) {
	switch f.Provider {
	case "anthropic":
		return anthropic.New(anthropic.Config{
			APIKey:         f.apiKey("ANTHROPIC_API_KEY"),
			Model:          modelName,
			MaxTokens:      f.MaxTokens,
			EnableThinking: f.Thinking,
			ThinkingBudget: f.ThinkingBudget,
		})
	case "openai":
		return openai.New(openai.Config{
			APIKey:          f.apiKey("OPENAI_API_KEY"),
			Model:           modelName,
			MaxTokens:       f.MaxTokens,
			BaseURL:         f.BaseURL,
			EnableReasoning: f.Thinking,
		})
	case "gemini":
		return gemini.New(gemini.Config{
			APIKey:    f.apiKey("GEMINI_API_KEY"),
			Model:     modelName,
			MaxTokens: f.MaxTokens,
		})
	case "ollama":
		return ollama.New(ollama.Config{
			BaseURL:        f.BaseURL,
			Model:          modelName,
			EnableThinking: f.Thinking,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", f.Provider)
	}
}

func (f *llmFlags) apiKey(envVar string) string {
	if f.APIKey != "" {
		return f.APIKey
	}
	if key := config.GetProviderAPIKey(f.Provider); key != "" {
		return key
	}
	return os.Getenv(envVar)
}

// buildRegistry assembles the built-in tool set every profile shares:
// file editing, shell execution, todo tracking, web requests, and
// session-control tools, plus an optional MCP toolset.
func buildRegistry(f *llmFlags) (*tool.Registry, *todotool.TodoManager, error) {
	reg := tool.NewRegistry()

	readFile, err := filetool.NewReadFile(&filetool.ReadFileConfig{WorkingDirectory: f.WorkingDir})
	if err != nil {
		return nil, nil, err
	}
	writeFile, err := filetool.NewWriteFile(&filetool.WriteFileConfig{WorkingDirectory: f.WorkingDir})
	if err != nil {
		return nil, nil, err
	}
	searchReplace, err := filetool.NewSearchReplace(&filetool.SearchReplaceConfig{WorkingDirectory: f.WorkingDir})
	if err != nil {
		return nil, nil, err
	}
	applyPatch, err := filetool.NewApplyPatch(&filetool.ApplyPatchConfig{WorkingDirectory: f.WorkingDir})
	if err != nil {
		return nil, nil, err
	}
	grepSearch, err := filetool.NewGrepSearch(&filetool.GrepSearchConfig{WorkingDirectory: f.WorkingDir})
	if err != nil {
		return nil, nil, err
	}
	webRequest, err := webtool.NewWebRequest(&webtool.WebRequestConfig{})
	if err != nil {
		return nil, nil, err
	}

	reg.Register(readFile)
	reg.Register(writeFile)
	reg.Register(searchReplace)
	reg.Register(applyPatch)
	reg.Register(grepSearch)
	reg.Register(webRequest)
	reg.Register(bashtool.New(bashtool.Config{WorkingDir: f.WorkingDir}))
	reg.Register(controltool.ExitLoop())
	reg.Register(controltool.Escalate())
	reg.Register(controltool.Backtrack())

	todos := todotool.NewTodoManager()
	todoTool, err := todos.Tool()
	if err != nil {
		return nil, nil, err
	}
	reg.Register(todoTool)

	if f.MCPURL != "" {
		mcp, err := mcptoolset.New(mcptoolset.Config{
			Name:      "mcp",
			URL:       f.MCPURL,
			Transport: "streamable-http",
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect mcp toolset: %w", err)
		}
		reg.RegisterToolset(mcp)
	}

	return reg, todos, nil
}

func defaultProfile(reg *tool.Registry) (task.Profile, error) {
	defs, err := reg.Definitions(context.Background())
	if err != nil {
		return task.Profile{}, err
	}
	return task.Profile{
		SystemPrompt: "You are coda, a terminal coding assistant. Use the available tools to read, edit, and run code in the user's working directory. Prefer small, verifiable steps.",
		Tools:        defs,
	}, nil
}

func defaultTaskConfig() task.Config {
	return task.Config{
		CheckpointEnabled:        true,
		CompactionTokenThreshold: 100_000,
	}
}

func buildExecutor(llm model.LLM, store *session.Store) (*task.Executor, error) {
	tokens, err := task.NewTokenCounter(llm.Name())
	if err != nil {
		return nil, err
	}
	compactor := &task.Compactor{LLM: llm}
	return task.NewExecutor(store, turn.NewExecutor(), compactor, tokens, defaultTaskConfig()), nil
}

// subAgentProfiles is the delegation surface the "task" tool exposes: one
// general-purpose sub-agent restricted to read-only investigation, so a
// top-level session can hand off research without risking unreviewed edits.
func subAgentProfiles() map[string]tool.SubAgentProfile {
	return map[string]tool.SubAgentProfile{
		"researcher": {
			Name:         "researcher",
			SystemPrompt: "You investigate a narrow question in the codebase and report back a concise, factual answer. You cannot edit files.",
			AllowedTools: []string{"read_file", "grep_search", "web_request"},
		},
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli, kong.Name("coda"), kong.Description("A terminal coding assistant."))
	setupLogging(cli.LogLevel)
	if err := config.LoadEnvFiles(); err != nil {
		slog.Warn("coda: load .env files", "error", err)
	}
	if err := ctx.Run(); err != nil {
		slog.Error("coda: fatal", "error", err)
		os.Exit(1)
	}
}

func shutdownContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()
	return ctx, cancel
}

// ServeCmd starts the HTTP/SSE transport described in pkg/server.
type ServeCmd struct {
	llmFlags
	Port     int    `help:"Port to listen on." default:"8080"`
	SessionsDir string `name:"sessions-dir" help:"Directory sessions persist to." default:".coda/sessions"`
}

func (c *ServeCmd) Run() error {
	ctx, cancel := shutdownContext()
	defer cancel()

	store, err := session.NewStore(c.SessionsDir)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	reg, _, err := buildRegistry(&c.llmFlags)
	if err != nil {
		return fmt.Errorf("build tool registry: %w", err)
	}
	reg.Register(tasktool.New(subAgentProfiles()))

	profile, err := defaultProfile(reg)
	if err != nil {
		return fmt.Errorf("build profile: %w", err)
	}

	seedLLM, err := c.resolveLLM(c.Model)
	if err != nil {
		return fmt.Errorf("resolve model: %w", err)
	}
	taskExec, err := buildExecutor(seedLLM, store)
	if err != nil {
		return fmt.Errorf("build task executor: %w", err)
	}
	toolExecutor := tool.NewExecutor(reg)

	manager := &subagent.Manager{
		Store:      store,
		Task:       taskExec,
		Registry:   reg,
		LLM:        seedLLM,
		Stream:     true,
		WorkingDir: c.WorkingDir,
		MaxDepth:   2,
	}

	// server.Config needs the Orchestrator to build Server.Sink(), but
	// orchestrator.New needs a sink up front: forward through a variable
	// assigned once the server exists rather than threading a setter
	// through pkg/orchestrator's otherwise-fixed constructor.
	var sink orchestrator.EventSink
	orch := orchestrator.New(store, taskExec, func(sessionID string, ev event.Event) bool {
		if sink != nil {
			return sink(sessionID, ev)
		}
		return true
	}, nil)
	orch.WorkingDir = c.WorkingDir
	orch.Subtask = manager.Run

	srv := server.New(server.Config{
		Orchestrator: orch,
		Store:        store,
		Profile:      profile,
		ToolExecutor: toolExecutor,
		Resolve:      c.resolveLLM,
	})
	sink = srv.Sink()

	slog.Info("coda: listening", "port", c.Port)
	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", c.Port), Handler: srv}
	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ChatCmd runs coda directly against the terminal, driving the orchestrator
// without any transport in between: a line of stdin becomes one UserInput
// operation, and the orchestrator's events render straight to stdout.
type ChatCmd struct {
	llmFlags
	SessionsDir string `name:"sessions-dir" help:"Directory sessions persist to." default:".coda/sessions"`
}

func (c *ChatCmd) Run() error {
	ctx, cancel := shutdownContext()
	defer cancel()

	store, err := session.NewStore(c.SessionsDir)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	reg, _, err := buildRegistry(&c.llmFlags)
	if err != nil {
		return fmt.Errorf("build tool registry: %w", err)
	}
	reg.Register(tasktool.New(subAgentProfiles()))

	profile, err := defaultProfile(reg)
	if err != nil {
		return fmt.Errorf("build profile: %w", err)
	}

	llm, err := c.resolveLLM(c.Model)
	if err != nil {
		return fmt.Errorf("resolve model: %w", err)
	}
	taskExec, err := buildExecutor(llm, store)
	if err != nil {
		return fmt.Errorf("build task executor: %w", err)
	}
	toolExecutor := tool.NewExecutor(reg)

	manager := &subagent.Manager{
		Store:      store,
		Task:       taskExec,
		Registry:   reg,
		LLM:        llm,
		Stream:     true,
		WorkingDir: c.WorkingDir,
		MaxDepth:   2,
	}

	orch := orchestrator.New(store, taskExec, renderEvent, nil)
	orch.WorkingDir = c.WorkingDir
	orch.Subtask = manager.Run

	sessionID := session.NewSessionID()
	if err := store.Create(sessionID, message.Session{ID: sessionID, Model: c.Model}); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	opID := orch.Submit(ctx, orchestrator.InitAgent{
		SessionID:    sessionID,
		Profile:      profile,
		LLM:          llm,
		Model:        c.Model,
		ToolExecutor: toolExecutor,
	})
	if err := orch.WaitFor(ctx, opID); err != nil {
		return fmt.Errorf("init session: %w", err)
	}

	fmt.Printf("coda: session %s ready (%s/%s). Ctrl-D to exit.\n", sessionID, c.Provider, c.Model)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		text := scanner.Text()
		if text == "" {
			continue
		}

		opID := orch.Submit(ctx, orchestrator.UserInput{
			SessionID: sessionID,
			Input:     orchestrator.UserInputPayload{Text: text},
		})
		if err := orch.WaitFor(ctx, opID); err != nil {
			fmt.Fprintf(os.Stderr, "coda: %v\n", err)
		}
		fmt.Println()
	}
	return scanner.Err()
}

// renderEvent is ChatCmd's EventSink: a minimal, line-oriented rendering of
// the assistant's streamed output and tool activity.
func renderEvent(sessionID string, ev event.Event) bool {
	switch v := ev.(type) {
	case event.AssistantTextDeltaEvent:
		fmt.Print(v.Delta)
	case event.ThinkingDeltaEvent:
		// Thinking is not shown by default; the terminal only renders
		// visible assistant text and tool activity.
	case event.ToolCallStartEvent:
		fmt.Printf("\n[tool] %s\n", v.Name)
	case event.ToolResultEvent:
		if v.IsError {
			fmt.Printf("[tool error] %s: %s\n", v.ToolName, v.Content)
		}
	case event.ErrorEvent:
		fmt.Fprintf(os.Stderr, "\n[error] %v\n", v.Err)
	case event.CompactionStartEvent:
		fmt.Println("\n[compacting session history...]")
	}
	return true
}
