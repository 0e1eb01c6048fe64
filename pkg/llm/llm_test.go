package llm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forge/pkg/config"
)

func TestErrorTypeRetryability(t *testing.T) {
	retryable := []ErrorType{ErrorTypeRateLimit, ErrorTypeTransient, ErrorTypeEmptyResponse}
	for _, et := range retryable {
		if !et.Retryable() {
			t.Errorf("%s should be retryable", et)
		}
	}
	fatal := []ErrorType{ErrorTypeAuth, ErrorTypeBadPrompt, ErrorTypeUnknown}
	for _, et := range fatal {
		if et.Retryable() {
			t.Errorf("%s should not be retryable", et)
		}
	}
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		msg  string
		want ErrorType
	}{
		{"HTTP 429 too many requests", ErrorTypeRateLimit},
		{"quota exceeded for project", ErrorTypeRateLimit},
		{"401 unauthorized", ErrorTypeAuth},
		{"invalid api key provided", ErrorTypeAuth},
		{"500 internal server error", ErrorTypeTransient},
		{"unexpected EOF", ErrorTypeTransient},
		{"connection reset by peer", ErrorTypeTransient},
		{"something inexplicable happened", ErrorTypeUnknown},
	}
	for _, tc := range cases {
		classified := ClassifyError(errors.New(tc.msg))
		var e *Error
		require.True(t, errors.As(classified, &e), "expected classified error for %q", tc.msg)
		assert.Equal(t, tc.want, e.Type, "message %q", tc.msg)
	}
}

func TestClassifyErrorPassesThroughContext(t *testing.T) {
	for _, cause := range []error{context.Canceled, context.DeadlineExceeded} {
		got := ClassifyError(cause)
		if !errors.Is(got, cause) {
			t.Errorf("expected %v to pass through, got %v", cause, got)
		}
		if IsRetryable(got) {
			t.Errorf("context error %v must not be retryable", cause)
		}
	}
}

func TestParsePatch(t *testing.T) {
	response := "Add greeting helper.\n\n" +
		"### FILE: greet/greet.go\n" +
		"```go\npackage greet\n\nfunc Hello() string { return \"hi\" }\n```\n\n" +
		"### DELETE: old/stale.go\n"

	patch, err := ParsePatch(response)
	require.NoError(t, err)
	assert.Equal(t, "Add greeting helper.", patch.Summary)
	require.Len(t, patch.Edits, 2)

	assert.Equal(t, "greet/greet.go", patch.Edits[0].Path)
	assert.False(t, patch.Edits[0].Delete)
	assert.Contains(t, patch.Edits[0].Content, "func Hello() string")

	assert.Equal(t, "old/stale.go", patch.Edits[1].Path)
	assert.True(t, patch.Edits[1].Delete)
}

func TestParsePatchRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"no blocks":          "I refuse to emit file blocks.",
		"unterminated fence": "x\n### FILE: a.go\n```\npackage a\n",
		"absolute path":      "x\n### FILE: /etc/passwd\n```\nboom\n```\n",
		"escaping path":      "x\n### FILE: ../outside.go\n```\nboom\n```\n",
	}
	for name, response := range cases {
		if _, err := ParsePatch(response); err == nil {
			t.Errorf("%s: expected parse error", name)
		}
	}
}

func TestPatchApply(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "stale.txt")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	patch := &Patch{
		Summary: "test",
		Edits: []FileEdit{
			{Path: "nested/new.go", Content: "package nested\n"},
			{Path: "stale.txt", Delete: true},
			{Path: "missing.txt", Delete: true},
		},
	}
	touched, err := patch.Apply(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"nested/new.go", "stale.txt", "missing.txt"}, touched)

	data, err := os.ReadFile(filepath.Join(dir, "nested", "new.go"))
	require.NoError(t, err)
	assert.Equal(t, "package nested\n", string(data))

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}

func TestMockClientScript(t *testing.T) {
	mock := NewMockClientWithText("first", "second")

	resp, err := mock.Complete(context.Background(), Request{Messages: []Message{NewUserMessage("a")}})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Content)

	resp, err = mock.Complete(context.Background(), Request{Messages: []Message{NewUserMessage("b")}})
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Content)

	// Last response repeats once the script is exhausted.
	resp, err = mock.Complete(context.Background(), Request{Messages: []Message{NewUserMessage("c")}})
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Content)
	assert.Equal(t, 3, mock.Calls())
}

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    2,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestRetryableClientRetriesTransient(t *testing.T) {
	mock := NewMockClientWithText("recovered")
	mock.QueueError(NewError(ErrorTypeTransient, "blip"))
	mock.QueueError(NewError(ErrorTypeRateLimit, "slow down"))

	client := NewRetryableClient(mock, fastRetryConfig())
	resp, err := client.Complete(context.Background(), Request{Messages: []Message{NewUserMessage("go")}})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, 3, mock.Calls())
}

func TestRetryableClientStopsOnFatal(t *testing.T) {
	mock := NewMockClientWithText("never reached")
	mock.QueueError(NewError(ErrorTypeAuth, "bad key"))

	client := NewRetryableClient(mock, fastRetryConfig())
	_, err := client.Complete(context.Background(), Request{Messages: []Message{NewUserMessage("go")}})
	require.Error(t, err)
	assert.Equal(t, 1, mock.Calls())

	var classified *Error
	require.True(t, errors.As(err, &classified))
	assert.Equal(t, ErrorTypeAuth, classified.Type)
}

func TestRetryableClientExhaustsRetries(t *testing.T) {
	mock := NewMockClient()
	for i := 0; i < 5; i++ {
		mock.QueueError(NewError(ErrorTypeTransient, "still down"))
	}

	client := NewRetryableClient(mock, fastRetryConfig())
	_, err := client.Complete(context.Background(), Request{Messages: []Message{NewUserMessage("go")}})
	require.Error(t, err)
	assert.Equal(t, 3, mock.Calls()) // initial attempt plus MaxRetries
}

func TestRetryableClientHonorsCancellation(t *testing.T) {
	mock := NewMockClient()
	mock.QueueError(NewError(ErrorTypeTransient, "blip"))
	mock.QueueError(NewError(ErrorTypeTransient, "blip"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := NewRetryableClient(mock, fastRetryConfig())
	_, err := client.Complete(ctx, Request{Messages: []Message{NewUserMessage("go")}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCostTracker(t *testing.T) {
	model := &config.ModelConfig{CostInPerM: 3.0, CostOutPerM: 15.0}
	tracker := NewCostTracker(model)
	tracker.Add(Usage{InputTokens: 1_000_000, OutputTokens: 100_000})
	tracker.Add(Usage{InputTokens: 500_000, OutputTokens: 0})

	in, out := tracker.Totals()
	assert.Equal(t, 1_500_000, in)
	assert.Equal(t, 100_000, out)
	assert.InDelta(t, 3.0*1.5+15.0*0.1, tracker.CostUSD(), 1e-9)
}

func TestGeneratorRoundTrip(t *testing.T) {
	response := "Tweak readme.\n\n### FILE: README.md\n```\nhello\n```\n"
	mock := NewMockClientWithText(response)
	model := &config.ModelConfig{Name: "mock", MaxTokens: 1024, Temperature: 0.7}

	gen := NewGenerator(mock, model, NewCostTracker(model))
	patch, err := gen.Generate(context.Background(), "update the readme", "README.md: project readme")
	require.NoError(t, err)
	assert.Equal(t, "Tweak readme.", patch.Summary)
	require.Len(t, patch.Edits, 1)
	assert.Equal(t, "README.md", patch.Edits[0].Path)

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Messages[0].Content, "update the readme")
	assert.Equal(t, 1024, reqs[0].MaxTokens)
	assert.Equal(t, float32(0.7), reqs[0].Temperature)
}

func TestPatchRenderRoundTrip(t *testing.T) {
	original := "Tweak readme.\n\n### FILE: README.md\n```\nhello\n```\n\n### DELETE: old.md\n"
	patch, err := ParsePatch(original)
	require.NoError(t, err)

	reparsed, err := ParsePatch(patch.Render())
	require.NoError(t, err)
	assert.Equal(t, patch.Summary, reparsed.Summary)
	assert.Equal(t, patch.Edits, reparsed.Edits)
}

func TestGeneratorUnparseableResponse(t *testing.T) {
	mock := NewMockClientWithText("I cannot help with that.")
	model := &config.ModelConfig{Name: "mock", MaxTokens: 1024}

	gen := NewGenerator(mock, model, nil)
	_, err := gen.Generate(context.Background(), "goal", "bundle")
	require.Error(t, err)

	var classified *Error
	require.True(t, errors.As(err, &classified))
	assert.Equal(t, ErrorTypeBadPrompt, classified.Type)
}
