package processors

import (
	"context"
	"errors"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"voiceguard/core"
)

func TestMapGatewayError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"api 429", &openai.APIError{HTTPStatusCode: 429}, core.ErrRateLimited},
		{"api 402", &openai.APIError{HTTPStatusCode: 402}, core.ErrQuotaExceeded},
		{"request 429", &openai.RequestError{HTTPStatusCode: 429, Err: errors.New("too many requests")}, core.ErrRateLimited},
		{"request 402", &openai.RequestError{HTTPStatusCode: 402, Err: errors.New("payment required")}, core.ErrQuotaExceeded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := mapGatewayError("transcription", tc.err)
			if !errors.Is(got, tc.want) {
				t.Errorf("mapGatewayError(%v) = %v, want %v in chain", tc.err, got, tc.want)
			}
			if !strings.HasPrefix(got.Error(), "transcription: ") {
				t.Errorf("error %q missing operation prefix", got)
			}
		})
	}
}

func TestMapGatewayErrorPassthrough(t *testing.T) {
	cause := errors.New("connection reset")
	got := mapGatewayError("analysis", cause)
	if !errors.Is(got, cause) {
		t.Errorf("mapGatewayError lost the cause: %v", got)
	}
	if errors.Is(got, core.ErrRateLimited) || errors.Is(got, core.ErrQuotaExceeded) {
		t.Errorf("generic error mapped to a gateway sentinel: %v", got)
	}
}

func TestMockTranscriber(t *testing.T) {
	text, err := MockTranscriber{}.Transcribe(context.Background(), []byte("audio"), core.FormatWebm)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text == "" {
		t.Error("empty transcript from mock")
	}

	if _, err := (MockTranscriber{}).Transcribe(context.Background(), nil, core.FormatMP3); err == nil {
		t.Error("Transcribe accepted empty audio")
	}
}

func TestPickTranscriberMockEnv(t *testing.T) {
	t.Setenv("ASR", "mock")
	if _, ok := PickTranscriber().(MockTranscriber); !ok {
		t.Error("ASR=mock did not select the mock transcriber")
	}
}
