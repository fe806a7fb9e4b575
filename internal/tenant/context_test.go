package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		ctx := WithTenantID(context.Background(), "tenant-1")
		got, err := FromContext(ctx)
		require.NoError(t, err)
		assert.Equal(t, "tenant-1", got)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := FromContext(context.Background())
		assert.ErrorIs(t, err, ErrTenantIDNotFound)
	})

	t.Run("empty", func(t *testing.T) {
		ctx := WithTenantID(context.Background(), "")
		_, err := FromContext(ctx)
		assert.ErrorIs(t, err, ErrTenantIDNotFound)
	})
}

func TestFromRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	got, err := FromRequestIDContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "req-1", got)

	_, err = FromRequestIDContext(context.Background())
	assert.ErrorIs(t, err, ErrNoRequestIDInContext)
}

func TestValidateEventTenant(t *testing.T) {
	ctx := WithTenantID(context.Background(), "tenant-1")

	assert.NoError(t, ValidateEventTenant(ctx, "tenant-1"))
	assert.NoError(t, ValidateEventTenant(ctx, ""))
	assert.Error(t, ValidateEventTenant(ctx, "tenant-2"))
	assert.Error(t, ValidateEventTenant(context.Background(), "tenant-1"))
}
