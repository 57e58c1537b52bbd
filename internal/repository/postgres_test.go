package repository

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/arcway/chronicle/internal/domain"
)

func TestJoinRollbackErrKeepsTypedError(t *testing.T) {
	fnErr := &domain.OptimisticLockError{
		EntityType: "settlement",
		EntityID:   uuid.New(),
		Expected:   1,
		Actual:     2,
	}
	combined := joinRollbackErr(fnErr, errors.New("connection reset"))

	var lockErr *domain.OptimisticLockError
	if !errors.As(combined, &lockErr) {
		t.Fatalf("wrapped error lost its type: %v", combined)
	}
	if lockErr.Actual != 2 {
		t.Errorf("wrapped error carries wrong fields: %+v", lockErr)
	}
}

func TestJoinRollbackErrWithoutRollbackFailure(t *testing.T) {
	fnErr := errors.New("write failed")
	if got := joinRollbackErr(fnErr, nil); got != fnErr {
		t.Errorf("clean rollback should return fn's error unchanged, got %v", got)
	}
}
