// Package factsheet runs the fixed battery of analyst questions against a
// freshly built session index.
package factsheet

import (
	"context"
	"fmt"
	"strings"

	"github.com/fabfab/fund-agent/index"
	"github.com/fabfab/fund-agent/llm"
)

// fundNameQuery is prompt-engineered so the model completes the sentence with
// a bare name. The cleanup below is best effort; the result is a heuristic,
// not a guaranteed exact name.
const fundNameQuery = "What is the name of the fund? Give only the name without additional comments. The name of the fund is: "

// Questions is the ordered battery run on every upload. Answers are returned
// in this exact order.
var Questions = []string{
	"What is the investment strategy of the fund?",
	"What are the investment objectives of the fund?",
	"Who are the key people in the management team?",
	"What is the investment philosophy of the fund regarding ESG (Environmental, Social, and Governance)?",
	"What industries, markets, or types of securities does the fund want exposure to?",
	"What investment tools (derivatives, leverage, etc) does the fund use to achieve their investment goals?",
}

// Answer pairs one battery question with its response.
type Answer struct {
	Query    string `json:"query"`
	Response string `json:"response"`
}

// FactSheet is the upload-time summary of a fund: its extracted name and the
// ordered battery answers. It is returned to the caller, never persisted here.
type FactSheet struct {
	FundName string   `json:"fund_name"`
	Answers  []Answer `json:"fund_overview"`
}

// ExtractionError reports which battery query failed. A single failure aborts
// the whole extraction; a partial fact sheet would read as a complete one.
type ExtractionError struct {
	Query string
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("fact sheet extraction failed on %q: %v", e.Query, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Extract runs the name query and the battery sequentially against one
// handle. The pass is synchronous, so every answer sees the same snapshot of
// the index.
func Extract(ctx context.Context, handle index.Handle, client llm.Client, limit int) (*FactSheet, error) {
	name, err := index.Answer(ctx, handle, client, fundNameQuery, limit)
	if err != nil {
		return nil, &ExtractionError{Query: fundNameQuery, Err: err}
	}

	answers := make([]Answer, 0, len(Questions))
	for _, question := range Questions {
		response, err := index.Answer(ctx, handle, client, question, limit)
		if err != nil {
			return nil, &ExtractionError{Query: question, Err: err}
		}
		answers = append(answers, Answer{Query: question, Response: response})
	}

	return &FactSheet{
		FundName: CleanFundName(name),
		Answers:  answers,
	}, nil
}

// CleanFundName strips the usual free-text decoration from a name answer:
// surrounding quotes, a trailing period, and anything past the first line.
func CleanFundName(raw string) string {
	name := strings.TrimSpace(raw)
	if idx := strings.IndexByte(name, '\n'); idx >= 0 {
		name = name[:idx]
	}
	name = strings.TrimSpace(name)
	name = strings.TrimSuffix(name, ".")
	name = strings.Trim(name, `"'`)
	name = strings.TrimSuffix(name, ".")
	return strings.TrimSpace(name)
}
