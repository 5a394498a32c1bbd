package mysqlerr

import (
	"errors"
	"testing"
)

func TestConnectFailedIsErrConnectFailed(t *testing.T) {
	err := &ConnectFailed{Errno: 1045, Message: "access denied"}
	if !errors.Is(err, ErrConnectFailed) {
		t.Fatal("expected errors.Is to match ErrConnectFailed")
	}
	if errors.Is(err, ErrQueryFailed) {
		t.Fatal("did not expect a ConnectFailed to match ErrQueryFailed")
	}
}

func TestQueryFailedAsUnwrapsConcreteFields(t *testing.T) {
	err := error(&QueryFailed{Errno: 1146, Message: "no such table", QueriesExecuted: 2})

	var qf *QueryFailed
	if !errors.As(err, &qf) {
		t.Fatal("expected errors.As to find a *QueryFailed")
	}
	if qf.Errno != 1146 || qf.QueriesExecuted != 2 {
		t.Fatalf("unexpected fields: %+v", qf)
	}
	if !errors.Is(err, ErrQueryFailed) {
		t.Fatal("expected errors.Is to match ErrQueryFailed")
	}
}

func TestTimeoutIsErrTimeout(t *testing.T) {
	err := &Timeout{Elapsed: 0}
	if !errors.Is(err, ErrTimeout) {
		t.Fatal("expected errors.Is to match ErrTimeout")
	}
}

func TestCancelledIsErrCancelled(t *testing.T) {
	err := &Cancelled{}
	if !errors.Is(err, ErrCancelled) {
		t.Fatal("expected errors.Is to match ErrCancelled")
	}
}

func TestInvalidConnectionMessageWithAndWithoutReason(t *testing.T) {
	bare := &InvalidConnection{}
	if bare.Error() != "invalid connection" {
		t.Fatalf("unexpected message: %q", bare.Error())
	}

	withReason := &InvalidConnection{Reason: "holder stolen"}
	if withReason.Error() != "invalid connection: holder stolen" {
		t.Fatalf("unexpected message: %q", withReason.Error())
	}
	if !errors.Is(withReason, ErrInvalidConnection) {
		t.Fatal("expected errors.Is to match ErrInvalidConnection")
	}
}

func TestOperationInProgressIsErrOperationInProgress(t *testing.T) {
	if !errors.Is(&OperationInProgress{}, ErrOperationInProgress) {
		t.Fatal("expected errors.Is to match ErrOperationInProgress")
	}
}

func TestOperationStateIsErrOperationState(t *testing.T) {
	err := &OperationState{Detail: "poll on a completed operation"}
	if !errors.Is(err, ErrOperationState) {
		t.Fatal("expected errors.Is to match ErrOperationState")
	}
}

func TestClientErrorIsErrClientError(t *testing.T) {
	err := NewClientError("multi_query requires at least one statement")
	if !errors.Is(err, ErrClientError) {
		t.Fatal("expected errors.Is to match ErrClientError")
	}
	if err.Detail != "multi_query requires at least one statement" {
		t.Fatalf("unexpected detail: %q", err.Detail)
	}
}

func TestSentinelsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrConnectFailed, ErrQueryFailed, ErrTimeout, ErrCancelled,
		ErrInvalidConnection, ErrOperationInProgress, ErrOperationState, ErrClientError,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && errors.Is(a, b) {
				t.Fatalf("expected sentinel %d and %d to be distinct", i, j)
			}
		}
	}
}
