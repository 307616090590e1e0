package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorCode
	}{
		{fmt.Errorf("%w: steps", ErrInvalidConfig), CodeConfig},
		{fmt.Errorf("%w: foo", ErrUnknownStepType), CodeConfig},
		{ErrUnknownOperation, CodeConfig},
		{fmt.Errorf("%w: $x", ErrReference), CodeReference},
		{fmt.Errorf("%w: a/b", ErrCapabilityNotFound), CodeCapability},
		{ErrPermissionDenied, CodePermission},
		{ErrTransformFailed, CodeTransform},
		{context.Canceled, CodeCancelled},
		{errors.New("something else"), CodeExecution},
		{&ExecutionError{Code: CodeReference, Message: "x"}, CodeReference},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestExecutionError(t *testing.T) {
	cause := fmt.Errorf("%w: core/missing", ErrCapabilityNotFound)
	err := NewExecutionError("ability", "steps[0].try[0]", cause.Error(), cause)
	err.Capability = "core/missing"

	if err.Code != CodeCapability {
		t.Errorf("expected capability_error, got %s", err.Code)
	}
	if !errors.Is(err, ErrCapabilityNotFound) {
		t.Error("ExecutionError should unwrap to cause")
	}
	if err.Error() != "steps[0].try[0] (ability): capability not found: core/missing" {
		t.Errorf("unexpected message: %s", err.Error())
	}

	info := err.Info()
	if info["code"] != "capability_error" || info["step"] != "steps[0].try[0]" ||
		info["type"] != "ability" || info["capability"] != "core/missing" {
		t.Errorf("unexpected info: %v", info)
	}

	// AsExecutionError не оборачивает повторно
	wrapped := fmt.Errorf("outer: %w", err)
	if got := AsExecutionError(wrapped, "loop", "steps[1]"); got != err {
		t.Error("AsExecutionError should return existing ExecutionError")
	}
	if got := AsExecutionError(errors.New("plain"), "loop", "steps[1]"); got.Path != "steps[1]" || got.StepType != "loop" {
		t.Errorf("unexpected wrap: %+v", got)
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("steps[2]", "foo", "unknown key: foo", ErrInvalidConfig)
	if err.Error() != "step steps[2]: unknown key: foo" {
		t.Errorf("unexpected message: %s", err.Error())
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Error("ValidationError should unwrap to ErrInvalidConfig")
	}
}
