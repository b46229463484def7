package main

import (
	"reflect"
	"strings"
	"testing"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
	"github.com/ruslano69/tdtp-migrator/pkg/mapping"
	"github.com/ruslano69/tdtp-migrator/pkg/transform"
)

func strPtr(s string) *string { return &s }

func TestPreviewTable(t *testing.T) {
	tm := mapping.TableMapping{
		SourceTable: "customers",
		TargetTable: "clients",
		Columns: []mapping.ColumnMapping{
			{SourceColumn: "id", TargetColumn: "client_id", IsPrimaryKey: true},
			{SourceColumn: "first_name", TargetColumn: "full_name", Transformation: &transform.Config{
				Type: transform.KindConcatenate, Columns: []string{"last_name"}, Separator: " ",
			}},
			{SourceColumn: "code", TargetColumn: "code", Transformation: &transform.Config{
				Type: transform.KindCaseChange, Case: "upper",
			}},
			{SourceColumn: "secret", TargetColumn: "secret", Transformation: &transform.Config{
				Type: transform.KindExcludeColumn,
			}},
			{SourceColumn: "city", TargetColumn: "city", Transformation: &transform.Config{
				Type: transform.KindDefaultValue, Value: strPtr("unknown"),
			}},
			{SourceColumn: "age", TargetColumn: "age", Transformation: &transform.Config{
				Type: transform.KindTypeConversion, TargetType: schema.TypeInteger,
			}},
		},
	}
	batch := adapters.Batch{
		Columns: []string{"ID", "First_Name", "last_name", "code", "secret", "city", "age"},
		Rows: [][]any{
			{int64(1), "Ada", "Lovelace", "ab", "x", nil, "36"},
			{int64(2), "Alan", "Turing", "cd", "y", "London", "forty"},
		},
	}

	headers, rows := previewTable(tm, batch)

	wantHeaders := []string{"client_id", "full_name", "code", "city", "age"}
	if !reflect.DeepEqual(headers, wantHeaders) {
		t.Fatalf("headers = %v, want %v", headers, wantHeaders)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}

	first := rows[0]
	if first[0] != int64(1) || first[1] != "Ada Lovelace" || first[2] != "AB" || first[3] != "unknown" {
		t.Errorf("first row = %v", first)
	}
	if first[4] != int64(36) {
		t.Errorf("age = %#v, want int64(36)", first[4])
	}

	second := rows[1]
	if second[3] != "London" {
		t.Errorf("city = %v", second[3])
	}
	if s, ok := second[4].(string); !ok || !strings.HasPrefix(s, "<error:") {
		t.Errorf("age conversion error must be shown in cell, got %#v", second[4])
	}
}

func TestPreviewTable_Empty(t *testing.T) {
	tm := mapping.TableMapping{Columns: []mapping.ColumnMapping{{SourceColumn: "id", TargetColumn: "id"}}}
	headers, rows := previewTable(tm, adapters.Batch{})
	if len(headers) != 1 || len(rows) != 0 {
		t.Errorf("headers=%v rows=%v", headers, rows)
	}
}
