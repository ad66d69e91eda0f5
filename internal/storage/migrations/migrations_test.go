package migrations

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{
			name:  "two statements with comments",
			input: "-- header\nCREATE TABLE a (x UInt8);\n\n-- next\nCREATE TABLE b (y String);\n",
			want:  []string{"CREATE TABLE a (x UInt8)", "CREATE TABLE b (y String)"},
		},
		{
			name:  "trailing statement without semicolon",
			input: "SELECT 1;\nSELECT 2",
			want:  []string{"SELECT 1", "SELECT 2"},
		},
		{
			name:  "escaped quote",
			input: "INSERT INTO t VALUES ('it''s');",
			want:  []string{"INSERT INTO t VALUES ('it''s')"},
		},
		{
			name:    "semicolon in literal",
			input:   "INSERT INTO t VALUES ('a;b');",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := splitStatements(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEmbeddedSchemasParse(t *testing.T) {
	pg, err := load(PostgresFS, "postgres")
	require.NoError(t, err)
	require.NotEmpty(t, pg)

	ch, err := load(ClickhouseFS, "clickhouse")
	require.NoError(t, err)
	require.NotEmpty(t, ch)
	for _, m := range ch {
		stmts, err := splitStatements(m.sql)
		require.NoError(t, err, m.name)
		assert.NotEmpty(t, stmts, m.name)
	}
}

func TestLoadOrdersAndSkipsEmpty(t *testing.T) {
	fsys := fstest.MapFS{
		"pg/002_b.sql":  {Data: []byte("SELECT 2;")},
		"pg/001_a.sql":  {Data: []byte("SELECT 1;")},
		"pg/003_c.sql":  {Data: []byte("  \n")},
		"pg/README.txt": {Data: []byte("not sql")},
	}

	got, err := load(fsys, "pg")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "001_a.sql", got[0].name)
	assert.Equal(t, "002_b.sql", got[1].name)
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://default:@localhost:9000/audit")
	require.NoError(t, err)
	assert.Equal(t, "audit", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}
