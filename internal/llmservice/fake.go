package llmservice

import (
	"context"
	"sync"
)

// FakeInvoker replays canned responses for offline runs and tests. Respond,
// when set, takes precedence over the queued responses.
type FakeInvoker struct {
	mu        sync.Mutex
	responses []string
	Respond   func(p Prompt) (string, error)
	Err       error
	calls     []Prompt
}

func NewFakeInvoker(responses ...string) *FakeInvoker {
	return &FakeInvoker{responses: responses}
}

func (f *FakeInvoker) Invoke(ctx context.Context, _ string, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := decodePrompt(payload)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, p)
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Respond != nil {
		out, err := f.Respond(p)
		return []byte(out), err
	}
	if len(f.responses) == 0 {
		return []byte("{}"), nil
	}
	out := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return []byte(out), nil
}

// Calls returns the prompts received so far.
func (f *FakeInvoker) Calls() []Prompt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Prompt(nil), f.calls...)
}
