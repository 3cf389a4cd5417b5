package errors_test

import (
	"errors"
	"fmt"
	"testing"

	berr "github.com/next-trace/scg-bridge/contract/errors"
)

func TestCodeAndVars(t *testing.T) {
	e := berr.Code(berr.ErrCodeCycleDependency)
	if e.Error() != berr.ErrCodeCycleDependency {
		t.Fatalf("unexpected error string: %s", e.Error())
	}

	// exported variables must carry their codes
	tests := []struct {
		err  error
		code string
	}{
		{berr.ErrSelfDependency, berr.ErrCodeSelfDependency},
		{berr.ErrMissingDependency, berr.ErrCodeMissingDependency},
		{berr.ErrCycleDependency, berr.ErrCodeCycleDependency},
		{berr.ErrDuplicateToken, berr.ErrCodeDuplicateToken},
		{berr.ErrNotRegistered, berr.ErrCodeNotRegistered},
		{berr.ErrRegistryDisposed, berr.ErrCodeRegistryDisposed},
		{berr.ErrInitFailed, berr.ErrCodeInitFailed},
		{berr.ErrConstructFailed, berr.ErrCodeConstructFailed},
		{berr.ErrGroupExists, berr.ErrCodeGroupExists},
		{berr.ErrNotController, berr.ErrCodeNotController},
		{berr.ErrHandlerExists, berr.ErrCodeHandlerExists},
		{berr.ErrHandlerNotFound, berr.ErrCodeHandlerNotFound},
		{berr.ErrInvalidPattern, berr.ErrCodeInvalidPattern},
		{berr.ErrTransportNotConfigured, berr.ErrCodeTransportNotConfigured},
		{berr.ErrSendFailed, berr.ErrCodeSendFailed},
		{berr.ErrPublishFailed, berr.ErrCodePublishFailed},
		{berr.ErrInvokeFailed, berr.ErrCodeInvokeFailed},
		{berr.ErrSerializationFailed, berr.ErrCodeSerializationFailed},
		{berr.ErrSessionExists, berr.ErrCodeSessionExists},
		{berr.ErrInvalidConfig, berr.ErrCodeInvalidConfig},
	}

	for _, tc := range tests {
		if !errors.Is(tc.err, berr.Code(tc.code)) {
			t.Fatalf("expected %s to be %s", tc.err, tc.code)
		}
	}
}

func TestCodeSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("register log: %w", errors.Join(berr.ErrInitFailed, errors.New("boom")))
	if !errors.Is(err, berr.ErrInitFailed) {
		t.Fatalf("want ErrInitFailed in chain, got %v", err)
	}
}
