package contextkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, SessionToken(ctx))
	assert.Empty(t, RequestedTenant(ctx))

	ctx = WithSessionToken(ctx, "tok")
	ctx = WithRequestedTenant(ctx, "prod")
	assert.Equal(t, "tok", SessionToken(ctx))
	assert.Equal(t, "prod", RequestedTenant(ctx))
}
