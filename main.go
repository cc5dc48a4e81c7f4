package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"

	"github.com/fatih/color"

	"cee-expert/internal/expert"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		// A second interrupt gets the default behaviour and kills the process.
		<-ctx.Done()
		stop()
	}()

	// Load configuration
	config, err := LoadConfig()
	if err != nil {
		if errors.Is(err, expert.ErrMissingAPIKey) {
			color.New(color.FgYellow).Fprintln(os.Stderr,
				"La clé API Gemini (API_KEY) n'est pas configurée dans l'environnement.")
		}
		log.Fatalf("Failed to load config: %v", err)
	}

	service, err := expert.New(config.APIKey,
		expert.WithModel(config.ChatModel),
		expert.WithBaseURL(config.BaseURL),
	)
	if err != nil {
		log.Fatalf("Failed to initialize expert service: %v", err)
	}

	// Initialize embedder
	embedder := NewEmbedder(config)

	// Initialize corpus
	var corpus Corpus
	if config.DatabaseURL != "" {
		vectorStore, err := NewVectorStore(config, embedder)
		if err != nil {
			log.Fatalf("Failed to initialize vector store: %v", err)
		}
		defer vectorStore.Close()
		corpus = vectorStore
	} else {
		corpus = NewMemoryCorpus(embedder, config.ContextLimit)
	}

	// Preload documents when a corpus file is configured and the corpus is empty
	count, err := corpus.Count(ctx)
	if err != nil {
		log.Fatalf("Failed to check document count: %v", err)
	}
	if path := os.Getenv("CEE_CORPUS_FILE"); path != "" && count == 0 {
		docs, err := LoadDocumentsFile(path)
		if err != nil {
			log.Fatalf("Failed to load corpus: %v", err)
		}
		if err := corpus.Load(ctx, docs); err != nil {
			log.Fatalf("Failed to store corpus: %v", err)
		}
		color.New(color.FgGreen).Printf("✓ Loaded %d documents from %s\n", len(docs), path)
	} else if count > 0 {
		color.New(color.FgGreen).Printf("✓ Corpus contains %d documents\n", count)
	}

	// Initialize chatbot
	chatBot := NewChatBot(service, corpus, config, os.Stdin, color.Output)

	// Run interactive chat
	if err := chatBot.RunInteractive(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Chat error: %v", err)
	}
}
