package domain

import (
	"testing"

	"alchemy/internal/testutil"
)

func TestDomainLayering(t *testing.T) {
	testutil.AssertLayering(t, ".",
		testutil.Forbid("domain must not depend on implementation packages", "alchemy/internal"),
		testutil.Forbid("domain must not depend on storage drivers",
			"github.com/dgraph-io/badger/v4",
			"github.com/jackc/pgx/v5",
			"modernc.org/sqlite",
			"github.com/aws/aws-sdk-go-v2",
		),
		testutil.Forbid("domain must not depend on transport", "github.com/gin-gonic/gin", "net/http"),
	)
}
