package llm

import "context"

// MockClient returns canned responses, for tests and offline runs.
type MockClient struct {
	// Response is returned by Complete when Err is nil.
	Response string
	// Err is returned by Complete when set.
	Err error
	// LastPrompt records the most recent prompt passed to Complete.
	LastPrompt string
}

// Complete returns the canned response or error.
func (m *MockClient) Complete(_ context.Context, prompt string) (string, error) {
	m.LastPrompt = prompt
	if m.Err != nil {
		return "", m.Err
	}
	return m.Response, nil
}

// ModelID identifies the mock.
func (m *MockClient) ModelID() string { return "mock/canned" }
