package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestNewIncludesCaller(t *testing.T) {
	err := New("boom %d", 42)
	if !strings.HasPrefix(err.Error(), "[errors_test.go:") {
		t.Errorf("expected file prefix, got %q", err.Error())
	}
	if !strings.HasSuffix(err.Error(), "boom 42") {
		t.Errorf("expected message suffix, got %q", err.Error())
	}
}

func TestWrapfNil(t *testing.T) {
	if Wrapf(nil, "ctx") != nil {
		t.Fatal("Wrapf(nil) should return nil")
	}
}

func TestNotFoundMessages(t *testing.T) {
	tests := []struct {
		err      error
		sentinel error
		want     string
	}{
		{ProviderNotFound("acme"), ErrProviderNotFound, "The provider you are searching for cannot be found: acme"},
		{ModelNotFound("gpt-9"), ErrModelNotFound, "The model you are searching for cannot be found: gpt-9"},
		{ToolNotFound("nope"), ErrToolNotFound, "The tool you are requesting cannot be found: nope"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if tt.err.Error() != tt.want {
				t.Errorf("got %q, want %q", tt.err.Error(), tt.want)
			}
			wrapped := Wrapf(tt.err, "lookup")
			if !Is(wrapped, tt.sentinel) {
				t.Errorf("wrapped error should match its sentinel")
			}
		})
	}
	if Is(ToolNotFound("x"), ErrModelNotFound) {
		t.Error("tool error must not match model sentinel")
	}
}

func TestToolErrors(t *testing.T) {
	cause := fmt.Errorf("permission denied")
	err := Wrapf(&ToolExecutionError{Tool: "search_cwd", Err: cause}, "turn")
	if !Is(err, ErrToolExecution) || !Is(err, cause) {
		t.Errorf("tool execution error chain broken: %v", err)
	}

	var loop *ToolLoopError
	if !As(Wrapf(&ToolLoopError{Limit: 25}, "turn"), &loop) || loop.Limit != 25 {
		t.Errorf("expected ToolLoopError with limit 25")
	}
}

func TestMessage(t *testing.T) {
	if got := Message(nil); got != "" {
		t.Errorf("Message(nil) = %q", got)
	}
	if got := Message(Wrapf(ProviderNotFound("acme"), "resolve")); got != "The provider you are searching for cannot be found: acme" {
		t.Errorf("unexpected not-found message %q", got)
	}
	if got := Message(Wrapf(New("disk full"), "save chat")); got != "save chat: disk full" {
		t.Errorf("unexpected message %q", got)
	}
}
