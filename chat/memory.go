package chat

import "github.com/fabfab/fund-agent/llm"

// DefaultMemoryBudget caps the recent-history prompt contribution, in runes.
// Roughly four runes per token puts this near the original 1500-token buffer.
const DefaultMemoryBudget = 6000

// Window is the bounded recent-turn history included in each generation
// prompt. Messages arrive in user/assistant pairs; when the rune budget is
// exceeded the oldest pair is dropped first, and the most recent turn is
// always retained regardless of size.
type Window struct {
	budget   int
	messages []llm.Message
}

func NewWindow(budget int) *Window {
	if budget <= 0 {
		budget = DefaultMemoryBudget
	}
	return &Window{budget: budget}
}

// Append adds messages and re-applies the budget.
func (w *Window) Append(messages ...llm.Message) {
	w.messages = append(w.messages, messages...)
	w.truncate()
}

// Messages returns a copy of the current window, oldest first.
func (w *Window) Messages() []llm.Message {
	out := make([]llm.Message, len(w.messages))
	copy(out, w.messages)
	return out
}

func (w *Window) Len() int {
	return len(w.messages)
}

func (w *Window) size() int {
	total := 0
	for _, msg := range w.messages {
		total += len([]rune(msg.Content))
	}
	return total
}

func (w *Window) truncate() {
	// Keep at least the latest user/assistant pair.
	for w.size() > w.budget && len(w.messages) > 2 {
		drop := 2
		if drop > len(w.messages)-2 {
			drop = len(w.messages) - 2
		}
		w.messages = w.messages[drop:]
	}
}
