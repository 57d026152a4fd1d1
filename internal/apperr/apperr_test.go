package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorsIsMatchesByKind(t *testing.T) {
	err := Validation("discrepancy note is required").WithDetail("hasDiscrepancy", true)
	wrapped := fmt.Errorf("receive cash: %w", err)

	if !errors.Is(wrapped, ErrValidation) {
		t.Fatalf("expected wrapped error to match ErrValidation")
	}
	if errors.Is(wrapped, ErrForbidden) {
		t.Fatalf("validation error must not match ErrForbidden")
	}
	if KindOf(wrapped) != KindValidation {
		t.Fatalf("expected kind %s, got %s", KindValidation, KindOf(wrapped))
	}
}

func TestWithDetailDoesNotMutateOriginal(t *testing.T) {
	base := InvalidStatus("closing is not a draft")
	withDetail := base.WithDetail("status", "SUBMITTED")

	if len(base.Details) != 0 {
		t.Fatalf("expected base details to stay empty, got %v", base.Details)
	}
	if withDetail.Details["status"] != "SUBMITTED" {
		t.Fatalf("expected status detail, got %v", withDetail.Details)
	}
}

func TestKindOfPlainErrorIsInternal(t *testing.T) {
	if KindOf(errors.New("boom")) != KindInternal {
		t.Fatalf("expected plain errors to be internal")
	}
}
