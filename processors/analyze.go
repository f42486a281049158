package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"voiceguard/config"
	"voiceguard/core"
)

// AnalysisMode selects the upstream analysis path: a full assessment for
// uploaded clips or the faster live path for monitoring ticks.
type AnalysisMode string

const (
	ModeAnalyze AnalysisMode = "analyze"
	ModeLive    AnalysisMode = "live"
)

// Analyzer asks the AI gateway for a threat assessment of one transcript.
type Analyzer interface {
	Analyze(ctx context.Context, transcription string, mode AnalysisMode) (core.AnalysisResult, error)
}

const analyzeTimeout = 90 * time.Second

const analysisSystemPrompt = `You are an advanced AI security analyst specializing in detecting fraudulent communications, scam calls, and AI-generated voices. Your task is to analyze transcribed audio and identify potential threats.

For each analysis, you MUST respond with a JSON object containing:
{
  "riskScore": number (0-100, where 0 is completely safe and 100 is definitely a scam),
  "status": "safe" | "suspicious" | "danger",
  "isAiGenerated": boolean,
  "confidenceScore": number (0-1, your confidence in the assessment),
  "summary": string (2-3 sentence summary of your findings),
  "threats": [
    {
      "threatType": string (e.g., "Urgency Pressure", "Authority Claim", "Identity Request", "Prize Scam", "AI Voice Detected"),
      "description": string (detailed explanation),
      "severity": "low" | "medium" | "high",
      "confidence": number (0-1),
      "recommendation": string (what the user should do),
      "startIndex": number (character offset where the flagged phrase starts in the transcription),
      "endIndex": number (character offset just past the end of the flagged phrase)
    }
  ]
}

Key indicators to look for:
1. **Urgency/Pressure tactics**: "Act now", "Limited time", "Immediate action required"
2. **Authority impersonation**: Claims to be from banks, government, tech support, IRS
3. **Requests for sensitive info**: SSN, bank details, passwords, credit card numbers
4. **Prize/lottery scams**: "You've won", "Selected for reward", "Claim your prize"
5. **Threat-based manipulation**: Account suspension, legal action, arrest threats
6. **AI voice indicators**: Unnatural cadence, robotic tone mentions, synthetic quality
7. **Suspicious payment requests**: Gift cards, wire transfers, cryptocurrency
8. **Callback scams**: Requests to call unfamiliar numbers

Be thorough but avoid false positives. Legitimate business calls may mention accounts or verification but won't pressure or threaten.`

// GatewayAnalyzer is the LLM-backed analyzer.
type GatewayAnalyzer struct {
	cli         *openai.Client
	model       string
	temperature float32
}

// MockAnalyzer scores transcripts with a keyword heuristic, used when no
// gateway is configured and in tests.
type MockAnalyzer struct{}

// PickAnalyzer selects a provider from the ANALYZER environment variable.
// "mock" forces the mock; otherwise the gateway is used when configured.
func PickAnalyzer() Analyzer {
	kind := strings.ToLower(strings.TrimSpace(os.Getenv("ANALYZER")))
	if kind == "mock" {
		return MockAnalyzer{}
	}
	cfg, err := config.LoadConfig()
	if err != nil || !cfg.HasValidAPI() {
		fmt.Println("Warning: API configuration not found for analysis, using mock analyzer")
		return MockAnalyzer{}
	}
	return GatewayAnalyzer{cli: gatewayClient(), model: cfg.ChatModel, temperature: 0.3}
}

func (a GatewayAnalyzer) Analyze(ctx context.Context, transcription string, mode AnalysisMode) (core.AnalysisResult, error) {
	if strings.TrimSpace(transcription) == "" {
		return core.AnalysisResult{}, core.ErrEmptyTranscript
	}
	ctx, cancel := context.WithTimeout(ctx, analyzeTimeout)
	defer cancel()

	var userPrompt string
	if mode == ModeLive {
		userPrompt = fmt.Sprintf("Analyze this live audio transcription segment for potential scam indicators. Be quick but thorough:\n\n%q\n\nRespond with the JSON analysis.", transcription)
	} else {
		userPrompt = fmt.Sprintf("Analyze the following transcription from an audio recording and provide a comprehensive threat assessment:\n\n%q\n\nRespond with the JSON analysis.", transcription)
	}

	resp, err := a.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: analysisSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: a.temperature,
	})
	if err != nil {
		return core.AnalysisResult{}, mapGatewayError("analysis", err)
	}
	if len(resp.Choices) == 0 {
		return core.AnalysisResult{}, fmt.Errorf("analysis: no response from AI")
	}
	return ParseAnalysisContent(resp.Choices[0].Message.Content), nil
}

func (MockAnalyzer) Analyze(ctx context.Context, transcription string, mode AnalysisMode) (core.AnalysisResult, error) {
	if strings.TrimSpace(transcription) == "" {
		return core.AnalysisResult{}, core.ErrEmptyTranscript
	}

	lower := strings.ToLower(transcription)
	score := 5
	var threats []core.ThreatResult
	indicators := []struct {
		phrase     string
		threatType string
		severity   core.Severity
		weight     int
	}{
		{"act now", "Urgency Pressure", core.SeverityHigh, 35},
		{"immediately", "Urgency Pressure", core.SeverityMedium, 20},
		{"verify your account", "Identity Request", core.SeverityHigh, 35},
		{"password", "Identity Request", core.SeverityHigh, 30},
		{"gift card", "Suspicious Payment", core.SeverityHigh, 40},
		{"wire transfer", "Suspicious Payment", core.SeverityMedium, 25},
		{"you've won", "Prize Scam", core.SeverityMedium, 30},
		{"arrest", "Threat Manipulation", core.SeverityHigh, 30},
	}
	for _, ind := range indicators {
		idx := strings.Index(lower, ind.phrase)
		if idx < 0 {
			continue
		}
		score += ind.weight
		start := len([]rune(lower[:idx]))
		threats = append(threats, core.ThreatResult{
			ThreatType:     ind.threatType,
			Description:    fmt.Sprintf("Transcript contains the phrase %q.", ind.phrase),
			Severity:       ind.severity,
			Confidence:     0.9,
			Recommendation: "Do not share personal information or send money; verify the caller through an official channel.",
			StartIndex:     start,
			EndIndex:       start + len([]rune(ind.phrase)),
		})
	}
	if score > 100 {
		score = 100
	}

	res := core.AnalysisResult{
		RiskScore:       score,
		Status:          core.Classify(score).Status,
		IsAiGenerated:   false,
		ConfidenceScore: 0.9,
		Summary:         fmt.Sprintf("Heuristic assessment flagged %d indicator(s) in the transcript.", len(threats)),
		Threats:         threats,
	}
	return res, nil
}

// ParseAnalysisContent extracts the assessment JSON from a raw model reply.
// The model often wraps its JSON in markdown fences or prose, so everything
// between the first '{' and the last '}' is treated as the payload. Malformed
// output yields the documented fallback instead of an error: a parse failure
// must never crash a user-visible flow.
func ParseAnalysisContent(content string) core.AnalysisResult {
	payload, ok := extractJSON(content)
	if !ok {
		log.Printf("analysis: no JSON object in model reply, using fallback result")
		return FallbackResult()
	}
	var res core.AnalysisResult
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		log.Printf("analysis: failed to parse model reply (%v), using fallback result", err)
		return FallbackResult()
	}
	return normalizeResult(res)
}

// FallbackResult is the conservative substitute for unparseable model
// output.
func FallbackResult() core.AnalysisResult {
	return core.AnalysisResult{
		RiskScore:       15,
		Status:          core.StatusSafe,
		IsAiGenerated:   false,
		ConfidenceScore: 0.5,
		Summary:         "Analysis completed but could not parse detailed results. Manual review recommended.",
		Threats:         []core.ThreatResult{},
	}
}

func extractJSON(content string) (string, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return content[start : end+1], true
}

// normalizeResult clamps model-supplied numbers and recomputes the status
// from the risk score; the model's own status claim is discarded.
func normalizeResult(res core.AnalysisResult) core.AnalysisResult {
	if res.RiskScore < 0 {
		res.RiskScore = 0
	}
	if res.RiskScore > 100 {
		res.RiskScore = 100
	}
	res.Status = core.Classify(res.RiskScore).Status
	res.ConfidenceScore = clamp01(res.ConfidenceScore)
	for i := range res.Threats {
		res.Threats[i].Confidence = clamp01(res.Threats[i].Confidence)
	}
	if res.Threats == nil {
		res.Threats = []core.ThreatResult{}
	}
	return res
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
