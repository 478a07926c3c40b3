package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitStatements(t *testing.T) {
	sql := `-- content records
CREATE TABLE IF NOT EXISTS a (id INT);

CREATE INDEX IF NOT EXISTS a_id ON a (id);
;
`
	stmts := SplitStatements(sql)
	assert.Equal(t, []string{
		"CREATE TABLE IF NOT EXISTS a (id INT)",
		"CREATE INDEX IF NOT EXISTS a_id ON a (id)",
	}, stmts)
}

func TestSplitStatements_Empty(t *testing.T) {
	assert.Empty(t, SplitStatements("-- nothing here\n\n"))
}
