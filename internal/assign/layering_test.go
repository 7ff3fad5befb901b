package assign

import (
	"testing"

	"alchemy/internal/testutil"
)

func TestAssignLayering(t *testing.T) {
	testutil.AssertLayering(t, ".",
		testutil.Forbid("assignment is pure", "alchemy/internal/infra", "alchemy/internal/cache", "alchemy/internal/core"),
	)
}
