package inventory

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestClassifyStoreErr(t *testing.T) {
	transientCodes := []string{
		"08006", // connection_failure
		"57P01", // admin_shutdown
		"40001", // serialization_failure
		"40P01", // deadlock_detected
	}
	for _, code := range transientCodes {
		err := classifyStoreErr("update record", &pgconn.PgError{Code: code})
		var unavailable *StorageUnavailableError
		require.ErrorAs(t, err, &unavailable, "code %s", code)
		require.Equal(t, "update record", unavailable.Op)
	}

	// Constraint and data errors are the caller's problem, not transient.
	for _, code := range []string{"23505", "23514", "22003"} {
		cause := &pgconn.PgError{Code: code}
		err := classifyStoreErr("insert record", cause)
		var unavailable *StorageUnavailableError
		require.False(t, errors.As(err, &unavailable), "code %s", code)
		require.Equal(t, cause, err)
	}

	plain := errors.New("scan failed")
	require.Equal(t, plain, classifyStoreErr("get record", plain))
}
