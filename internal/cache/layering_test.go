package cache

import (
	"testing"

	"alchemy/internal/testutil"
)

func TestCacheLayering(t *testing.T) {
	testutil.AssertLayering(t, ".",
		testutil.Forbid("cache works against domain.ExperimentStore only", "alchemy/internal/infra", "alchemy/internal/core"),
	)
}
