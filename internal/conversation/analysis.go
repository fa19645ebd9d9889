/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-concierge/internal/llm"
)

// Sentiment is the customer's overall emotional state
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
	SentimentMixed    Sentiment = "mixed"
)

// AnalysisResult is the structured summary of a transcript. The field set is stable.
type AnalysisResult struct {
	Sentiment       Sentiment `json:"sentiment"`
	MainIssue       string    `json:"main_issue"`
	Topics          []string  `json:"topics"`
	Summary         string    `json:"summary"`
	SuggestedAction string    `json:"suggested_action"`
}

const analysisSystemPrompt = "You are a professional conversation analysis expert, capable of extracting key information from conversations."

const analysisInstruction = `Please analyze the following conversation and extract the following information:
1. Customer's main issues or needs
2. Customer's emotional state
3. Key information points (such as product interest, budget considerations, etc.)
4. Suggested follow-up actions

Respond with a single JSON object and nothing else, using exactly these fields:
{"sentiment": "positive" | "neutral" | "negative" | "mixed", "main_issue": string, "topics": [string], "summary": string, "suggested_action": string}

Conversation content:`

// buildAnalysisRequest renders the transcript as Customer/Assistant lines under the fixed instruction
func buildAnalysisRequest(model string, transcript []Turn) llm.CompletionRequest {
	var b strings.Builder
	b.WriteString(analysisInstruction)
	for _, turn := range transcript {
		speaker := "Assistant"
		if turn.Role == llm.RoleUser {
			speaker = "Customer"
		}
		fmt.Fprintf(&b, "\n%s: %s", speaker, turn.Content)
	}

	return llm.CompletionRequest{
		Model:        model,
		SystemPrompt: analysisSystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: b.String()}},
	}
}

// ParseAnalysis extracts an AnalysisResult from a model response, tolerating code fences
// and prose around the JSON object.
func ParseAnalysis(raw string) (*AnalysisResult, error) {
	body := strings.TrimSpace(raw)
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end < start {
		return nil, &AnalysisParseError{Raw: raw, Cause: errors.New("no JSON object in response")}
	}

	var result AnalysisResult
	if err := json.Unmarshal([]byte(body[start:end+1]), &result); err != nil {
		return nil, &AnalysisParseError{Raw: raw, Cause: err}
	}

	result.Sentiment = Sentiment(strings.ToLower(strings.TrimSpace(string(result.Sentiment))))
	switch result.Sentiment {
	case SentimentPositive, SentimentNeutral, SentimentNegative, SentimentMixed:
	case "":
		return nil, &AnalysisParseError{Raw: raw, Cause: errors.New("missing sentiment")}
	default:
		return nil, &AnalysisParseError{Raw: raw, Cause: fmt.Errorf("unknown sentiment %q", result.Sentiment)}
	}

	result.Summary = strings.TrimSpace(result.Summary)
	if result.Summary == "" {
		return nil, &AnalysisParseError{Raw: raw, Cause: errors.New("missing summary")}
	}

	result.MainIssue = strings.TrimSpace(result.MainIssue)
	result.SuggestedAction = strings.TrimSpace(result.SuggestedAction)

	topics := make([]string, 0, len(result.Topics))
	for _, topic := range result.Topics {
		if t := strings.TrimSpace(topic); t != "" {
			topics = append(topics, t)
		}
	}
	result.Topics = topics

	return &result, nil
}
