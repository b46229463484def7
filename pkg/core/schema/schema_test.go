package schema

import (
	"errors"
	"testing"
	"time"
)

func TestNormalizeType(t *testing.T) {
	tests := []struct {
		kind       EngineKind
		declared   string
		want       DataType
		wantLength int
	}{
		{KindPostgres, "integer", TypeInteger, 0},
		{KindPostgres, "character varying(120)", TypeText, 120},
		{KindPostgres, "timestamp with time zone", TypeTimestampTZ, 0},
		{KindPostgres, "numeric(10,2)", TypeDecimal, 0},
		{KindMySQL, "tinyint(1)", TypeBoolean, 0},
		{KindMySQL, "int unsigned", TypeInteger, 0},
		{KindMySQL, "datetime", TypeTimestamp, 0},
		{KindSQLServer, "nvarchar(50)", TypeText, 50},
		{KindSQLServer, "uniqueidentifier", TypeUUID, 0},
		{KindSQLServer, "datetimeoffset", TypeTimestampTZ, 0},
		{KindMongoDB, "objectId", TypeObjectID, 0},
		{KindMongoDB, "object", TypeJSON, 0},
		{KindSQLite, "BLOB", TypeBinary, 0},
		{KindSQLite, "geometry", TypeText, 0},
	}

	for _, tt := range tests {
		got, length := NormalizeType(tt.kind, tt.declared)
		if got != tt.want || length != tt.wantLength {
			t.Errorf("NormalizeType(%s, %q) = %s,%d; want %s,%d",
				tt.kind, tt.declared, got, length, tt.want, tt.wantLength)
		}
	}
}

func TestParseEngineKind(t *testing.T) {
	for in, want := range map[string]EngineKind{
		"PostgreSQL": KindPostgres,
		"mssql":      KindSQLServer,
		"mongo":      KindMongoDB,
		"couchdb":    KindCouchDB,
	} {
		got, err := ParseEngineKind(in)
		if err != nil || got != want {
			t.Errorf("ParseEngineKind(%q) = %s, %v", in, got, err)
		}
	}

	if _, err := ParseEngineKind("oracle"); err == nil {
		t.Error("expected error for unsupported engine")
	}
}

func TestConvertValue(t *testing.T) {
	v, err := ConvertValue("42", TypeInteger)
	if err != nil || v != int64(42) {
		t.Fatalf("ConvertValue(\"42\", integer) = %v, %v", v, err)
	}

	v, err = ConvertValue("yes", TypeBoolean)
	if err != nil || v != true {
		t.Fatalf("ConvertValue(\"yes\", boolean) = %v, %v", v, err)
	}

	v, err = ConvertValue("", TypeInteger)
	if err != nil || v != nil {
		t.Fatalf("empty string should become NULL for integer, got %v, %v", v, err)
	}

	v, err = ConvertValue("", TypeText)
	if err != nil || v != "" {
		t.Fatalf("empty string must stay text, got %v, %v", v, err)
	}

	v, err = ConvertValue("2024-03-15 10:20:30", TypeDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := v.(time.Time).Format("2006-01-02 15:04:05"); got != "2024-03-15 00:00:00" {
		t.Errorf("date truncation: got %s", got)
	}

	_, err = ConvertValue("abc", TypeInteger)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestTableLookup(t *testing.T) {
	db := Database{Tables: []Table{{
		Name: "Customers",
		Columns: []Column{
			{Name: "id", Type: TypeInteger, IsPrimaryKey: true},
			{Name: "name", Type: TypeText, Nullable: true},
		},
	}}}

	tbl, ok := db.Table("customers")
	if !ok {
		t.Fatal("table lookup must be case-insensitive")
	}
	if pk := tbl.PrimaryKey(); len(pk) != 1 || pk[0].Name != "id" {
		t.Errorf("unexpected primary key: %+v", pk)
	}
	if _, ok := tbl.Column("NAME"); !ok {
		t.Error("column lookup must be case-insensitive")
	}
}
