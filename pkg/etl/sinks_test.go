package etl

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruslano69/tdtp-migrator/pkg/resultlog"
	"github.com/ruslano69/tdtp-migrator/pkg/xlsx"
)

func sampleReport() *Report {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &Report{
		ExecutionID: "exec-42",
		ProjectID:   "shop",
		Status:      StatusCompleted,
		StartedAt:   start,
		FinishedAt:  start.Add(90 * time.Second),
		DurationMs:  90000,
		Summary: ReportSummary{
			TotalRecords:      120,
			SuccessfulRecords: 118,
			FailedRecords:     2,
			TablesProcessed:   2,
			ValidationsPassed: 3,
		},
		Stages: []StageResult{
			{Stage: StageExtract, Status: StageCompleted, RecordsProcessed: 120, DurationMs: 1200},
			{Stage: StageLoadFacts, Status: StagePartial, RecordsProcessed: 98, RecordsFailed: 2, DurationMs: 800},
		},
		Tables: []TableReport{
			{SourceTable: "customers", TargetTable: "clients", Role: "dimension", Extracted: 20, Loaded: 20, Status: "completed"},
			{SourceTable: "orders", TargetTable: "orders", Role: "fact", Extracted: 100, Loaded: 98, LoadFailed: 2, Status: "partial"},
		},
		Validations: []ValidationResult{
			{Table: "clients", Kind: ValidationRowCount, Expected: int64(20), Actual: int64(20), Status: ValidationPassed, Message: "expected 20 rows, found 20"},
		},
		Errors:   []string{},
		Warnings: []string{"load orders: 2 rows skipped"},
	}
}

func TestJSONFileSink(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		compress bool
		zstd     bool
	}{
		{"plain", "report.json", false, false},
		{"compress flag", "report.json", true, true},
		{"zst suffix", "report.json.zst", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", tt.file)
			sink := JSONFileSink{Path: path, Compress: tt.compress}
			require.NoError(t, sink.PersistReport(context.Background(), sampleReport()))

			raw, err := os.ReadFile(path)
			require.NoError(t, err)
			isZstd := len(raw) >= 4 && raw[0] == 0x28 && raw[1] == 0xb5 && raw[2] == 0x2f && raw[3] == 0xfd
			assert.Equal(t, tt.zstd, isZstd)

			got, err := ReadReportFile(path)
			require.NoError(t, err)
			want := sampleReport()
			assert.Equal(t, want.ExecutionID, got.ExecutionID)
			assert.Equal(t, want.Summary, got.Summary)
			assert.Len(t, got.Stages, 2)
			assert.Len(t, got.Tables, 2)
			assert.True(t, want.StartedAt.Equal(got.StartedAt))
		})
	}
}

func TestReadReportFile_Errors(t *testing.T) {
	_, err := ReadReportFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err = ReadReportFile(path)
	assert.ErrorContains(t, err, "failed to parse report")
}

func TestXLSXSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, XLSXSink{Path: path}.PersistReport(context.Background(), sampleReport()))

	summary, err := xlsx.ReadSheet(path, "Summary")
	require.NoError(t, err)
	require.NotEmpty(t, summary)
	assert.Equal(t, []string{"Metric", "Value"}, summary[0])
	assert.Equal(t, []string{"executionId", "exec-42"}, summary[1])

	tables, err := xlsx.ReadSheet(path, "Tables")
	require.NoError(t, err)
	require.Len(t, tables, 3)
	assert.Equal(t, "orders", tables[2][0])
	assert.Equal(t, "partial", tables[2][7])

	issues, err := xlsx.ReadSheet(path, "Issues")
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, "warning", issues[1][0])

	for _, sheet := range []string{"Stages", "Validations"} {
		_, err := xlsx.ReadSheet(path, sheet)
		assert.NoError(t, err, sheet)
	}
}

func TestRedisSink(t *testing.T) {
	mr := miniredis.RunT(t)
	p, err := resultlog.NewRedisPublisher(resultlog.Config{Address: mr.Addr(), Prefix: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	require.NoError(t, RedisSink{Store: p}.PersistReport(context.Background(), sampleReport()))

	raw, err := mr.Get(p.ReportKey("exec-42"))
	require.NoError(t, err)

	var got Report
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, "shop", got.ProjectID)
	assert.Equal(t, StatusCompleted, got.Status)
}

type fakePublisher struct {
	keys     []string
	messages [][]byte
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, key string, message []byte) error {
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, key)
	p.messages = append(p.messages, message)
	return nil
}

func (p *fakePublisher) Close() error { return nil }
func (p *fakePublisher) Type() string { return "fake" }

func TestBrokerSink(t *testing.T) {
	pub := &fakePublisher{}
	require.NoError(t, BrokerSink{Publisher: pub}.PersistReport(context.Background(), sampleReport()))
	require.Len(t, pub.messages, 1)
	assert.Equal(t, "exec-42", pub.keys[0])

	var got Report
	require.NoError(t, json.Unmarshal(pub.messages[0], &got))
	assert.Equal(t, int64(118), got.Summary.SuccessfulRecords)

	pub.err = errors.New("broker unavailable")
	err := BrokerSink{Publisher: pub}.PersistReport(context.Background(), sampleReport())
	assert.ErrorContains(t, err, "fake: broker unavailable")
}

func TestExpandPath(t *testing.T) {
	assert.Equal(t, "reports/abc.json", expandPath("reports/{execution}.json", "abc"))
	assert.Equal(t, "/tmp/{x}/abc-abc.xlsx", expandPath("/tmp/{x}/{execution}-{execution}.xlsx", "abc"))
	assert.Equal(t, "report.json", expandPath("report.json", "abc"))
}
