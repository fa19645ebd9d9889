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

import "strings"

// PersonaLabel names one of the compiled-in personas
type PersonaLabel string

const (
	PersonaCustomerService PersonaLabel = "customer_service"
	PersonaLeadGeneration  PersonaLabel = "lead_generation"
)

// DefaultPersona is active when a session starts
const DefaultPersona = PersonaCustomerService

const customerServicePrompt = `You are a professional call center customer service representative, capable of handling various customer inquiries and issues.

Please follow these guidelines:
1. Maintain a professional, friendly, and polite attitude
2. Provide clear and concise answers, avoiding lengthy explanations
3. Proactively offer relevant information, but don't oversell
4. If you need more information to answer a question, politely ask for it
5. If you cannot resolve the customer's issue, offer the option to escalate to a human agent

Remember, your goal is to efficiently resolve customer issues while providing a good customer experience.`

const leadGenerationPrompt = `You are a professional sales representative, responsible for initial communication with potential customers and collecting information.

Please follow these guidelines:
1. Introduce yourself and your company in a friendly manner
2. Inquire about potential customers' needs and pain points
3. Briefly introduce how relevant products or services can solve their problems
4. Collect key information (such as contact details, best time to contact, etc.)
5. Suggest next steps (such as arranging a demonstration, sending materials, etc.)

Remember, your goal is to establish an initial relationship and collect sufficient information for follow-up, not to complete the sale in the first conversation.`

// Persona is a label plus the system prompt sent ahead of the transcript
type Persona struct {
	Label        PersonaLabel `json:"label"`
	SystemPrompt string       `json:"system_prompt"`
}

var personas = map[PersonaLabel]Persona{
	PersonaCustomerService: {Label: PersonaCustomerService, SystemPrompt: customerServicePrompt},
	PersonaLeadGeneration:  {Label: PersonaLeadGeneration, SystemPrompt: leadGenerationPrompt},
}

// ParsePersona maps a boundary string to a PersonaLabel, rejecting anything else with ErrUnknownPersona.
func ParsePersona(label string) (PersonaLabel, error) {
	p := PersonaLabel(strings.TrimSpace(label))
	if _, ok := personas[p]; !ok {
		return "", ErrUnknownPersona
	}
	return p, nil
}

// LookupPersona returns the persona for label
func LookupPersona(label PersonaLabel) (Persona, bool) {
	p, ok := personas[label]
	return p, ok
}

// PersonaLabels lists the valid labels in a stable order
func PersonaLabels() []PersonaLabel {
	return []PersonaLabel{PersonaCustomerService, PersonaLeadGeneration}
}
