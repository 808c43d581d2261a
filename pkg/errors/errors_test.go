package errors

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithDetailDoesNotMutateSentinel(t *testing.T) {
	first := ErrNotFound.WithDetail("id", "rule-a")
	second := ErrNotFound.WithDetail("id", "rule-b")

	assert.Equal(t, "rule-a", first.Details["id"], "earlier errors keep their own details")
	assert.Equal(t, "rule-b", second.Details["id"])
	assert.Empty(t, ErrNotFound.Details, "sentinel stays pristine")
}

func TestWithDetailChains(t *testing.T) {
	err := ErrConflict.
		WithDetail("id", "rule-a").
		WithDetail("tenant_id", "tenant-1")

	assert.Equal(t, "rule-a", err.Details["id"])
	assert.Equal(t, "tenant-1", err.Details["tenant_id"])
	assert.Empty(t, ErrConflict.Details)
}

func TestWithDetailsCopiesInput(t *testing.T) {
	details := map[string]interface{}{"id": "rule-a"}
	err := ErrValidation.WithDetails(details)

	details["id"] = "rule-b"
	assert.Equal(t, "rule-a", err.Details["id"], "caller mutations do not reach the error")
}

func TestWithDetailConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := ErrAlreadyRunning.
				WithDetail("rule_id", fmt.Sprintf("rule-%d", n)).
				WithDetail("tenant_id", fmt.Sprintf("tenant-%d", n))
			assert.Equal(t, fmt.Sprintf("rule-%d", n), err.Details["rule_id"])
		}(i)
	}
	wg.Wait()

	assert.Empty(t, ErrAlreadyRunning.Details)
}

func TestWrapKeepsCode(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(cause, ErrInternal)

	require.NotNil(t, err)
	assert.True(t, hasCode(err, ErrInternal.Code))
	assert.ErrorIs(t, err, cause)

	assert.Nil(t, Wrap(nil, ErrInternal))
}
