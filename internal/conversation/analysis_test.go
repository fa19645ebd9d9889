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
	"errors"
	"testing"
)

func TestParseAnalysis(t *testing.T) {
	tests := []struct {
		name          string
		raw           string
		wantErr       bool
		wantSentiment Sentiment
		wantTopics    int
	}{
		{
			name:          "Plain JSON",
			raw:           `{"sentiment":"positive","main_issue":"upgrade","topics":["pricing"],"summary":"Happy customer.","suggested_action":"Send a quote"}`,
			wantSentiment: SentimentPositive,
			wantTopics:    1,
		},
		{
			name:          "Fenced with prose",
			raw:           "Here is the analysis:\n```json\n{\"sentiment\":\" MIXED \",\"summary\":\"Unclear.\",\"topics\":[\"\",\"delivery\"]}\n```",
			wantSentiment: SentimentMixed,
			wantTopics:    1,
		},
		{
			name:          "Missing topics",
			raw:           `{"sentiment":"neutral","summary":"Asked about hours."}`,
			wantSentiment: SentimentNeutral,
			wantTopics:    0,
		},
		{name: "No JSON", raw: "The customer is angry.", wantErr: true},
		{name: "Broken JSON", raw: `{"sentiment": "negative",`, wantErr: true},
		{name: "Unknown sentiment", raw: `{"sentiment":"furious","summary":"x"}`, wantErr: true},
		{name: "Missing sentiment", raw: `{"summary":"x"}`, wantErr: true},
		{name: "Missing summary", raw: `{"sentiment":"negative","summary":"  "}`, wantErr: true},
		{name: "Wrong field type", raw: `{"sentiment":"negative","summary":"x","topics":"refund"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseAnalysis(tt.raw)
			if tt.wantErr {
				var parseErr *AnalysisParseError
				if !errors.As(err, &parseErr) {
					t.Fatalf("ParseAnalysis() error = %v, want *AnalysisParseError", err)
				}
				if parseErr.Raw != tt.raw {
					t.Errorf("Raw = %q, want %q", parseErr.Raw, tt.raw)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseAnalysis() error = %v", err)
			}
			if result.Sentiment != tt.wantSentiment {
				t.Errorf("Sentiment = %q, want %q", result.Sentiment, tt.wantSentiment)
			}
			if len(result.Topics) != tt.wantTopics {
				t.Errorf("Topics = %v, want %d entries", result.Topics, tt.wantTopics)
			}
			if result.Topics == nil {
				t.Error("Topics should never be nil")
			}
		})
	}
}

func TestParsePersona(t *testing.T) {
	tests := []struct {
		input   string
		want    PersonaLabel
		wantErr bool
	}{
		{"customer_service", PersonaCustomerService, false},
		{" lead_generation ", PersonaLeadGeneration, false},
		{"Customer Service", "", true},
		{"unknown", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParsePersona(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownPersona) {
					t.Errorf("ParsePersona(%q) error = %v, want ErrUnknownPersona", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePersona(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParsePersona(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
