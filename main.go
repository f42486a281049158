package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voiceguard/capture"
	"voiceguard/config"
	"voiceguard/handlers"
	"voiceguard/processors"
	"voiceguard/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if !cfg.HasValidAPI() {
		config.PrintConfigInstructions()
		log.Printf("Warning: no gateway API configured, transcription and analysis run in mock mode")
	}

	ctx := context.Background()

	store := storage.NewAnalysisStore(ctx)
	log.Printf("Analysis store initialized: %T", store)

	index := storage.NewSimilarityIndex(ctx, store)
	log.Printf("Similarity index initialized: %T", index)

	transcriber := processors.PickTranscriber()
	analyzer := processors.PickAnalyzer()

	pipeline := &processors.Pipeline{
		Transcriber: transcriber,
		Analyzer:    analyzer,
		Store:       store,
		Index:       index,
	}

	live := processors.NewLiveMonitor(
		analyzer,
		capture.PickRecorder(),
		time.Duration(cfg.LiveIntervalSec)*time.Second,
		cfg.MinTranscriptLen,
	)

	api := &handlers.API{
		Pipeline:     pipeline,
		Transcriber:  transcriber,
		Analyzer:     analyzer,
		Store:        store,
		Index:        index,
		Live:         live,
		HistoryLimit: cfg.HistoryLimit,
	}

	mux := http.NewServeMux()
	api.Register(mux)

	addr := ":8080"
	if v := os.Getenv("PORT"); v != "" {
		addr = ":" + v
	}
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Printf("Server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down services...")
	// The live monitor must release the microphone even if nobody called
	// /live/stop.
	live.Close()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	if pg, ok := store.(*storage.PostgresStore); ok {
		pg.Close()
	}
	log.Println("All services shut down gracefully")
}
