package processors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"voiceguard/config"
	"voiceguard/core"
)

// Transcriber turns raw audio bytes of a declared format into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format core.AudioFormat) (string, error)
}

const transcribeTimeout = 2 * time.Minute

// GatewayTranscriber sends the clip to the AI gateway's transcription
// endpoint using the model from config.
type GatewayTranscriber struct {
	cli   *openai.Client
	model string
}

// MockTranscriber returns a canned transcript, used when no gateway is
// configured and in tests.
type MockTranscriber struct{}

func (t GatewayTranscriber) Transcribe(ctx context.Context, audio []byte, format core.AudioFormat) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("no audio file provided")
	}
	ctx, cancel := context.WithTimeout(ctx, transcribeTimeout)
	defer cancel()

	resp, err := t.cli.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		Reader:   bytes.NewReader(audio),
		FilePath: "audio." + string(format),
	})
	if err != nil {
		return "", mapGatewayError("transcription", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("no transcription returned")
	}
	return text, nil
}

func (m MockTranscriber) Transcribe(ctx context.Context, audio []byte, format core.AudioFormat) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("no audio file provided")
	}
	return fmt.Sprintf("Placeholder transcript for a %d byte %s clip.", len(audio), format), nil
}

// PickTranscriber selects a provider from the ASR environment variable.
// "mock" forces the mock; otherwise the gateway is used when configured and
// the mock is the fallback.
func PickTranscriber() Transcriber {
	asr := strings.ToLower(strings.TrimSpace(os.Getenv("ASR")))
	if asr == "mock" {
		return MockTranscriber{}
	}
	cfg, err := config.LoadConfig()
	if err != nil || !cfg.HasValidAPI() {
		fmt.Println("Warning: API configuration not found for transcription, using mock transcriber")
		return MockTranscriber{}
	}
	return GatewayTranscriber{cli: gatewayClient(), model: cfg.TranscribeModel}
}

// mapGatewayError keeps the 429/402 gateway contract distinguishable from
// generic upstream failures.
func mapGatewayError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 429:
			return fmt.Errorf("%s: %w", op, core.ErrRateLimited)
		case 402:
			return fmt.Errorf("%s: %w", op, core.ErrQuotaExceeded)
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.HTTPStatusCode {
		case 429:
			return fmt.Errorf("%s: %w", op, core.ErrRateLimited)
		case 402:
			return fmt.Errorf("%s: %w", op, core.ErrQuotaExceeded)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func gatewayClient() *openai.Client {
	cfg, err := config.LoadConfig()
	if err != nil {
		return openai.NewClient(os.Getenv("API_KEY"))
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientConfig)
}
