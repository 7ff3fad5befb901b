package sqlite

import (
	"testing"

	"alchemy/internal/testutil"
)

func TestSQLiteStoreLayering(t *testing.T) {
	testutil.AssertLayering(t, ".",
		testutil.Forbid("sqlite only supplies the connection to sqlstore",
			"alchemy/internal/cache",
			"alchemy/internal/core",
			"alchemy/internal/infra/persistence/memory",
			"github.com/jackc/pgx/v5",
		),
	)
}
