package base

import (
	"strings"
	"testing"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
)

func TestQuoteIdent(t *testing.T) {
	tests := []struct {
		d    adapters.Dialect
		in   string
		want string
	}{
		{Postgres{}, "order", `"order"`},
		{Postgres{}, `we"ird`, `"we""ird"`},
		{MySQL{}, "order", "`order`"},
		{MySQL{}, "a`b", "`a``b`"},
		{SQLServer{}, "order", "[order]"},
		{SQLServer{}, "a]b", "[a]]b]"},
		{SQLite{}, "order", `"order"`},
	}

	for _, tt := range tests {
		if got := tt.d.QuoteIdent(tt.in); got != tt.want {
			t.Errorf("%s.QuoteIdent(%q) = %s, want %s", tt.d.Kind(), tt.in, got, tt.want)
		}
	}
}

func TestTableRef(t *testing.T) {
	ref := adapters.TableRef{Schema: "staging", Name: "stg_orders"}

	if got := (Postgres{}).Table(ref); got != `"staging"."stg_orders"` {
		t.Errorf("postgres: %s", got)
	}
	if got := (SQLServer{}).Table(ref); got != "[staging].[stg_orders]" {
		t.Errorf("sqlserver: %s", got)
	}
	// схемы игнорируются там, где их нет
	if got := (MySQL{}).Table(ref); got != "`stg_orders`" {
		t.Errorf("mysql: %s", got)
	}
	if got := (SQLite{}).Table(ref); got != `"stg_orders"` {
		t.Errorf("sqlite: %s", got)
	}
}

func TestInsertSQL(t *testing.T) {
	got := InsertSQL(Postgres{}, `"t"`, []string{"a", "b"}, 2)
	want := `INSERT INTO "t" ("a", "b") VALUES ($1, $2), ($3, $4)`
	if got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}

	got = InsertSQL(SQLServer{}, "[t]", []string{"a"}, 2)
	if !strings.HasSuffix(got, "VALUES (@p1), (@p2)") {
		t.Errorf("unexpected sqlserver insert: %s", got)
	}
}

func TestSelectPage(t *testing.T) {
	got := SQLServer{}.SelectPage([]string{"_etl_row_id", "name"}, "[stg]", "_etl_row_id", 500)
	want := "SELECT TOP (500) [_etl_row_id], [name] FROM [stg] WHERE [_etl_row_id] > @p1 ORDER BY [_etl_row_id]"
	if got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}

	got = MySQL{}.SelectPage([]string{"id"}, "`stg`", "id", 10)
	if !strings.HasSuffix(got, "ORDER BY `id` LIMIT 10") {
		t.Errorf("unexpected mysql page: %s", got)
	}
}

func TestInsertReturning(t *testing.T) {
	q, mode := Postgres{}.InsertReturning(`"t"`, []string{"name"}, "id")
	if mode != adapters.ReturnRow || !strings.HasSuffix(q, `RETURNING "id"`) {
		t.Errorf("postgres: %s (%v)", q, mode)
	}

	q, mode = SQLServer{}.InsertReturning("[t]", []string{"name"}, "id")
	if mode != adapters.ReturnRow || !strings.Contains(q, "OUTPUT INSERTED.[id]") {
		t.Errorf("sqlserver: %s (%v)", q, mode)
	}

	_, mode = MySQL{}.InsertReturning("`t`", []string{"name"}, "id")
	if mode != adapters.ReturnLastInsertID {
		t.Errorf("mysql must use LastInsertId, got %v", mode)
	}
}

func TestUpsertSelect(t *testing.T) {
	sel := `SELECT "id", "name" FROM "stg"`

	pg := Postgres{}.UpsertSelect(`"t"`, []string{"id", "name"}, []string{"id"}, sel)
	if !strings.Contains(pg, `ON CONFLICT ("id") DO UPDATE SET "name" = EXCLUDED."name"`) {
		t.Errorf("postgres upsert: %s", pg)
	}

	my := MySQL{}.UpsertSelect("`t`", []string{"id", "name"}, []string{"id"}, sel)
	if !strings.Contains(my, "ON DUPLICATE KEY UPDATE `name` = VALUES(`name`)") {
		t.Errorf("mysql upsert: %s", my)
	}

	ms := SQLServer{}.UpsertSelect("[t]", []string{"id", "name"}, []string{"id"}, sel)
	if !strings.HasPrefix(ms, "MERGE INTO [t] AS tgt") || !strings.HasSuffix(ms, ";") {
		t.Errorf("sqlserver merge: %s", ms)
	}

	lite := SQLite{}.UpsertSelect(`"t"`, []string{"id"}, []string{"id"}, sel)
	if !strings.Contains(lite, "WHERE true ON CONFLICT") || !strings.HasSuffix(lite, "DO NOTHING") {
		t.Errorf("sqlite upsert: %s", lite)
	}
}

func TestFormatDate(t *testing.T) {
	tests := []struct {
		d    adapters.Dialect
		want string
	}{
		{Postgres{}, `TO_CHAR(x, 'YYYY-MM-DD HH24:MI')`},
		{MySQL{}, `DATE_FORMAT(x, '%Y-%m-%d %H:%i')`},
		{SQLServer{}, `FORMAT(x, 'yyyy-MM-dd HH:mm')`},
		{SQLite{}, `strftime('%Y-%m-%d %H:%M', x)`},
	}
	for _, tt := range tests {
		if got := tt.d.FormatDate("x", "YYYY-MM-DD HH:mm"); got != tt.want {
			t.Errorf("%s: got %s, want %s", tt.d.Kind(), got, tt.want)
		}
	}
}

func TestColumnType(t *testing.T) {
	if got := (Postgres{}).ColumnType(schema.TypeText, 64); got != "VARCHAR(64)" {
		t.Errorf("postgres varchar: %s", got)
	}
	if got := (SQLServer{}).ColumnType(schema.TypeText, 0); got != "NVARCHAR(MAX)" {
		t.Errorf("sqlserver text: %s", got)
	}
	if got := (MySQL{}).ColumnType(schema.TypeBoolean, 0); got != "TINYINT(1)" {
		t.Errorf("mysql bool: %s", got)
	}
	if got := (SQLite{}).RowIDColumn("_etl_row_id"); got != `"_etl_row_id" INTEGER PRIMARY KEY AUTOINCREMENT` {
		t.Errorf("sqlite row id: %s", got)
	}
}

func TestDialectFor(t *testing.T) {
	for _, k := range []schema.EngineKind{schema.KindPostgres, schema.KindMySQL, schema.KindSQLServer, schema.KindSQLite} {
		d, ok := DialectFor(k)
		if !ok || d.Kind() != k {
			t.Errorf("DialectFor(%s) = %v, %v", k, d, ok)
		}
	}
	if _, ok := DialectFor(schema.KindMongoDB); ok {
		t.Error("document stores have no SQL dialect")
	}
}

func TestCreateTable(t *testing.T) {
	defs := []string{`"id" INTEGER`}
	if got := (SQLite{}).CreateTable(`"t"`, defs); got != `CREATE TABLE IF NOT EXISTS "t" ("id" INTEGER)` {
		t.Errorf("sqlite: %s", got)
	}

	got := (SQLServer{}).CreateTable("[dbo].[t]", []string{"[id] INT"})
	want := "IF OBJECT_ID(N'[dbo].[t]', N'U') IS NULL CREATE TABLE [dbo].[t] ([id] INT)"
	if got != want {
		t.Errorf("sqlserver:\n got  %s\n want %s", got, want)
	}
}
