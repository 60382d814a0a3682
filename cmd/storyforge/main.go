// Command storyforge runs the story-generation orchestration core: it
// loads the static configuration, opens the database, wires the chat
// bridge / fallback / validation / tool-call / step-engine / evaluation
// chain described by pkg/stepengine, and drives pending TaskExecutions
// through it with a pool of polling queue workers. There is no HTTP
// server here — task submission and story retrieval are expected to go
// straight through the repository layer from an embedding application
// or a separate API process.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/storyforge/engine/pkg/chatbridge"
	"github.com/storyforge/engine/pkg/config"
	"github.com/storyforge/engine/pkg/database"
	"github.com/storyforge/engine/pkg/evaluation"
	"github.com/storyforge/engine/pkg/fallback"
	"github.com/storyforge/engine/pkg/models"
	"github.com/storyforge/engine/pkg/opctx"
	"github.com/storyforge/engine/pkg/queue"
	"github.com/storyforge/engine/pkg/react"
	"github.com/storyforge/engine/pkg/repository"
	"github.com/storyforge/engine/pkg/stepengine"
	"github.com/storyforge/engine/pkg/tool"
	"github.com/storyforge/engine/pkg/validator"
	"github.com/storyforge/engine/pkg/version"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// .env is optional; a deployment that sets real environment
	// variables directly should not fail startup over a missing file.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", "error", err)
	}

	slog.Info("starting storyforge", "version", version.Full())

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("failed to load database configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	pool := wire(cfg, dbClient)

	if err := pool.Start(ctx); err != nil {
		slog.Error("failed to start worker pool", "error", err)
		os.Exit(1)
	}

	slog.Info("storyforge running", "workers", cfg.Queue.WorkerCount)
	<-ctx.Done()

	slog.Info("shutdown signal received, draining worker pool")
	shutdownDone := make(chan struct{})
	go func() {
		pool.Stop()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		slog.Info("worker pool drained cleanly")
	case <-time.After(cfg.Queue.GracefulShutdownTimeout):
		slog.Warn("graceful shutdown timed out, exiting with tasks still in flight")
	}
}

// wire assembles the full orchestration chain — chat bridge, fallback
// controller, response validator, tool registry, ReAct sub-loop, step
// engine, evaluator — and returns the worker pool that drives it.
func wire(cfg *config.Config, dbClient *database.Client) *queue.WorkerPool {
	db := dbClient.DB()

	stories := repository.NewStoryRepository(db)
	tasks := repository.NewTaskExecutionRepository(db)
	responses := repository.NewResponseLogRepository(db)
	usage := repository.NewUsageStateRepository(db)
	coherenceRepo := repository.NewCoherenceRepository(db)
	evaluations := repository.NewEvaluationRepository(db)

	httpClient := &http.Client{Timeout: 10 * time.Minute}
	bridge := chatbridge.New(httpClient, nil, responses)

	fb := fallback.New(bridge, cfg.Models, usage)

	checks := []validator.DeterministicCheck{
		validator.NonEmptyOutputCheck{MinChars: cfg.Defaults.MinOutputChars},
		validator.VoiceTagsCheck{},
	}
	judge := newAgentJudge(fb, cfg.Agents)
	val := validator.New(fb, checks, judge.Judge, cfg.ValidationPolicies, responses)

	tools := tool.NewRegistry()
	loop := react.New(val, tools, cfg.Defaults.MaxToolIterations)

	categoryScorer := evaluation.NewCategoryScorer(evaluations, stories)
	var evaluator *evaluation.Evaluator
	if cfg.Defaults.FactExtractorAgentName != "" && cfg.Defaults.CoherenceJudgeAgentName != "" {
		coherenceEvaluator := evaluation.NewCoherenceEvaluator(val, cfg.Agents, coherenceRepo,
			cfg.Defaults.FactExtractorAgentName, cfg.Defaults.CoherenceJudgeAgentName)
		evaluator = evaluation.New(categoryScorer, coherenceEvaluator, stories)
	} else {
		evaluator = evaluation.New(categoryScorer, nil, stories)
	}

	engine := stepengine.New(tasks, stories, cfg.Agents, cfg.TaskTypes, val, loop, cfg.Defaults.SummarizerAgentName, evaluator)

	return queue.NewWorkerPool(tasks, tasks, engine, &cfg.Queue)
}

// agentJudge adapts the fallback controller into a validator.JudgeFunc: a
// judge check is itself just another agent call, run through the same
// fallback chain as any other step (with no further validation recursion
// on its own output), asked to return a pass/fail verdict as JSON.
type agentJudge struct {
	fallback *fallback.Controller
	agents   *config.AgentRegistry
}

func newAgentJudge(fb *fallback.Controller, agents *config.AgentRegistry) *agentJudge {
	return &agentJudge{fallback: fb, agents: agents}
}

type judgeVerdict struct {
	Pass     bool   `json:"pass"`
	Feedback string `json:"feedback"`
}

// Judge implements validator.JudgeFunc.
func (j *agentJudge) Judge(oc opctx.Context, judgeAgentName string, result models.GenerateResult) (bool, string, error) {
	agent, err := j.agents.MustGet(judgeAgentName)
	if err != nil {
		return false, "", err
	}

	messages := []models.ConversationMessage{{
		Role: "user",
		Content: "Judge whether the following response is acceptable for this task. Respond with JSON " +
			`{"pass": true|false, "feedback": "..."} and nothing else:` + "\n\n" + result.Content,
	}}

	verdictResult, err := j.fallback.Run(oc.WithAgent(agent.Name, agent.Role), agent, messages, chatbridge.CallOptions{}, acceptAny)
	if err != nil {
		return false, "", fmt.Errorf("judge agent %q: %w", judgeAgentName, err)
	}

	var verdict judgeVerdict
	if err := json.Unmarshal([]byte(verdictResult.Content), &verdict); err != nil {
		if obj := extractJSONObject(verdictResult.Content); obj != "" {
			if err2 := json.Unmarshal([]byte(obj), &verdict); err2 == nil {
				return verdict.Pass, verdict.Feedback, nil
			}
		}
		return false, "", fmt.Errorf("parse judge verdict from %q: %w", judgeAgentName, err)
	}
	return verdict.Pass, verdict.Feedback, nil
}

func acceptAny(models.GenerateResult) error { return nil }

func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
