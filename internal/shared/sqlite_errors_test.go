package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeCodedError struct{ code int }

func (e fakeCodedError) Error() string { return fmt.Sprintf("sqlite error %d", e.code) }
func (e fakeCodedError) Code() int     { return e.code }

func TestIsSQLiteConflictError(t *testing.T) {
	t.Parallel()

	assert.False(t, IsSQLiteConflictError(nil))
	assert.False(t, IsSQLiteConflictError(errors.New("no such table")))
	assert.True(t, IsSQLiteConflictError(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.True(t, IsSQLiteBusyError(fmt.Errorf("insert: %w", fakeCodedError{code: 5})))
	// SQLITE_BUSY_SNAPSHOT is an extended busy code.
	assert.True(t, IsSQLiteBusyError(fakeCodedError{code: 5 | (2 << 8)}))
	assert.True(t, IsSQLiteLockedError(fakeCodedError{code: 6}))
	assert.False(t, IsSQLiteConflictError(fakeCodedError{code: 19}))
}
