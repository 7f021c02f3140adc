package main

import (
	"flag"
	"net/http"
	"os"

	"github.com/chatvault/chatvault/internal/api"
	"github.com/chatvault/chatvault/internal/db"
	"github.com/chatvault/chatvault/internal/llm"
	"github.com/chatvault/chatvault/internal/session"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

func main() {
	addr := flag.String("addr", ":8100", "listen address")
	dbPath := flag.String("db", "chatvault.db", "path to the SQLite database")
	openaiBaseURL := flag.String("openai-base-url", "https://api.openai.com/v1/", "OpenAI-compatible API base URL")
	openaiModel := flag.String("openai-model", "gpt-4o-mini", "model name sent to the OpenAI backend")
	anthropicModel := flag.String("anthropic-model", "claude-3-5-haiku-latest", "model name sent to the Anthropic backend")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Backend registry: the first registered model is the session default.
	responder := llm.NewResponder()

	chatgpt, err := openai.New(
		openai.WithToken(os.Getenv("OPENAI_API_KEY")),
		openai.WithBaseURL(*openaiBaseURL),
		openai.WithModel(*openaiModel),
	)
	if err != nil {
		logger.Fatal("failed to initialize chatgpt backend", zap.Error(err))
	}
	responder.Register("chatgpt", chatgpt)

	claude, err := anthropic.New(
		anthropic.WithToken(os.Getenv("ANTHROPIC_API_KEY")),
		anthropic.WithModel(*anthropicModel),
	)
	if err != nil {
		logger.Fatal("failed to initialize claude backend", zap.Error(err))
	}
	responder.Register("claude", claude)

	database, err := db.New(*dbPath, responder.Models())
	if err != nil {
		logger.Fatal("failed to initialize database",
			zap.Error(err),
			zap.String("dbPath", *dbPath))
	}
	defer database.Close()

	handler := api.NewHandler(database, logger)

	http.HandleFunc("/api/conversations", handler.HandleConversations)
	http.HandleFunc("/api/messages", handler.HandleMessages)
	http.HandleFunc("/ws", session.Handler(database, responder, logger))

	logger.Info("Starting server", zap.String("addr", *addr))
	if err := http.ListenAndServe(*addr, nil); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
}
