package couchdb

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
)

// DefaultSampleSize - сколько документов читается для вывода колонок
const DefaultSampleSize = 100

func init() {
	adapters.Register(schema.KindCouchDB, adapters.Driver{Open: Open, DSN: BuildDSN})
}

// Engine - движок CouchDB. Каждая база на сервере считается таблицей.
// Connection.Database ограничивает discovery списком баз через запятую,
// "*" означает все пользовательские базы.
type Engine struct {
	client     *kivik.Client
	only       map[string]bool
	sampleSize int
}

// Open создает HTTP-клиента kivik
func Open(ctx context.Context, cfg adapters.Config) (adapters.Engine, error) {
	client, err := kivik.New("couch", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to create couchdb client: %w", err)
	}

	e := &Engine{client: client, sampleSize: DefaultSampleSize}
	if cfg.Database != "" && cfg.Database != "*" {
		e.only = make(map[string]bool)
		for _, name := range strings.Split(cfg.Database, ",") {
			e.only[strings.TrimSpace(name)] = true
		}
	}
	if s, ok := cfg.Options["sampleSize"]; ok {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			e.sampleSize = n
		}
	}
	return e, nil
}

// BuildDSN строит http:// URL сервера
func BuildDSN(conn adapters.Connection, creds adapters.Credentials) string {
	port := conn.Port
	if port == 0 {
		port = 5984
	}
	scheme := "http"
	if conn.Options["tls"] == "true" {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: net.JoinHostPort(conn.Host, strconv.Itoa(port)), Path: "/"}
	if creds.User != "" {
		u.User = url.UserPassword(creds.User, creds.Password)
	}
	return u.String()
}

func (e *Engine) Kind() schema.EngineKind { return schema.KindCouchDB }

// Ping проверяет доступность сервера
func (e *Engine) Ping(ctx context.Context) error {
	ok, err := e.client.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("couchdb server is not available")
	}
	return nil
}

// Close закрывает клиента
func (e *Engine) Close() error {
	return e.client.Close()
}

// DiscoverSchema выводит колонки каждой базы по выборке документов
func (e *Engine) DiscoverSchema(ctx context.Context) (*schema.Database, error) {
	dbs, err := e.client.AllDBs(ctx)
	if err != nil {
		return nil, &adapters.SchemaDiscoveryError{Engine: schema.KindCouchDB, Err: err}
	}
	sort.Strings(dbs)

	result := &schema.Database{Kind: schema.KindCouchDB}
	for _, name := range dbs {
		if strings.HasPrefix(name, "_") || (e.only != nil && !e.only[name]) {
			continue
		}
		cols, err := e.sampleColumns(ctx, name)
		if err != nil {
			return nil, &adapters.SchemaDiscoveryError{Engine: schema.KindCouchDB, Database: name, Err: err}
		}
		result.Tables = append(result.Tables, schema.Table{Name: name, Columns: cols})
	}
	return result, nil
}

func (e *Engine) sampleColumns(ctx context.Context, dbName string) ([]schema.Column, error) {
	inf := newInference()
	docs := 0
	err := e.scanDocs(ctx, dbName, e.sampleSize, func(doc map[string]any) (bool, error) {
		docs++
		for _, k := range sortedKeys(doc) {
			inf.observe(k, doc[k])
		}
		return docs < e.sampleSize, nil
	})
	if err != nil {
		return nil, err
	}
	return inf.columns(docs), nil
}

// scanDocs листает _all_docs по ключу страницами по pageSize.
// fn возвращает false, чтобы остановить чтение.
func (e *Engine) scanDocs(ctx context.Context, dbName string, pageSize int, fn func(doc map[string]any) (bool, error)) error {
	db := e.client.DB(dbName)
	if err := db.Err(); err != nil {
		return err
	}

	lastKey := ""
	for {
		params := map[string]any{"include_docs": true, "limit": pageSize}
		if lastKey != "" {
			params["start_key"] = lastKey
			params["skip"] = 1
		}

		rows := db.AllDocs(ctx, kivik.Params(params))
		n := 0
		for rows.Next() {
			n++
			id, err := rows.ID()
			if err != nil {
				rows.Close()
				return err
			}
			lastKey = id
			if strings.HasPrefix(id, "_design/") {
				continue
			}

			var doc map[string]any
			if err := rows.ScanDoc(&doc); err != nil {
				rows.Close()
				return fmt.Errorf("failed to decode document %s: %w", id, err)
			}
			more, err := fn(doc)
			if err != nil || !more {
				rows.Close()
				return err
			}
		}
		if err := rows.Err(); err != nil {
			return err
		}
		rows.Close()

		if n < pageSize {
			return nil
		}
	}
}

// ExtractBatches читает базу страницами _all_docs
func (e *Engine) ExtractBatches(ctx context.Context, req adapters.ExtractRequest, fn adapters.BatchFunc) error {
	if req.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", req.BatchSize)
	}

	columns := req.Columns
	if len(columns) == 0 {
		cols, err := e.sampleColumns(ctx, req.Table.Name)
		if err != nil {
			return err
		}
		for _, c := range cols {
			columns = append(columns, c.Name)
		}
	}

	batch := adapters.Batch{Columns: columns, Rows: make([][]any, 0, req.BatchSize)}
	err := e.scanDocs(ctx, req.Table.Name, req.BatchSize, func(doc map[string]any) (bool, error) {
		row := make([]any, len(columns))
		for i, c := range columns {
			row[i] = flatten(doc[c])
		}
		batch.Rows = append(batch.Rows, row)

		if len(batch.Rows) == req.BatchSize {
			if err := fn(ctx, batch); err != nil {
				return false, err
			}
			batch = adapters.Batch{Columns: columns, Rows: make([][]any, 0, req.BatchSize)}
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	if len(batch.Rows) > 0 {
		return fn(ctx, batch)
	}
	return nil
}

// LoadBatch записывает документы через _bulk_docs.
// _bulk_docs не атомарен: ошибка отдельных документов возвращается вместе с числом записанных.
func (e *Engine) LoadBatch(ctx context.Context, table adapters.TableRef, batch adapters.Batch) (int64, error) {
	if batch.Len() == 0 {
		return 0, nil
	}

	docs := make([]any, 0, batch.Len())
	for _, r := range batch.Rows {
		doc := make(map[string]any, len(batch.Columns))
		for i, c := range batch.Columns {
			if r[i] == nil && c == "_id" {
				continue
			}
			doc[c] = r[i]
		}
		docs = append(docs, doc)
	}

	results, err := e.client.DB(table.Name).BulkDocs(ctx, docs)
	if err != nil {
		return 0, fmt.Errorf("bulk insert into %s failed: %w", table.Name, err)
	}

	var ok int64
	var firstErr error
	for _, r := range results {
		if r.Error != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("document %s: %w", r.ID, r.Error)
			}
			continue
		}
		ok++
	}
	return ok, firstErr
}

// RowCount возвращает doc_count базы
func (e *Engine) RowCount(ctx context.Context, table adapters.TableRef) (int64, error) {
	stats, err := e.client.DB(table.Name).Stats(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read stats of %s: %w", table.Name, err)
	}
	return stats.DocCount, nil
}

// ListAttachments возвращает вложения всех документов базы по заглушкам _attachments
func (e *Engine) ListAttachments(ctx context.Context, table string) ([]adapters.AttachmentRef, error) {
	var refs []adapters.AttachmentRef
	err := e.scanDocs(ctx, table, 500, func(doc map[string]any) (bool, error) {
		stubs, ok := doc["_attachments"].(map[string]any)
		if !ok {
			return true, nil
		}
		id, _ := doc["_id"].(string)
		for _, name := range sortedKeys(stubs) {
			ref := adapters.AttachmentRef{
				Table:      table,
				DocumentID: id,
				Name:       name,
				SourceURL:  fmt.Sprintf("couchdb://%s/%s/%s", table, url.PathEscape(id), url.PathEscape(name)),
			}
			if stub, ok := stubs[name].(map[string]any); ok {
				ref.ContentType, _ = stub["content_type"].(string)
				if l, ok := stub["length"].(float64); ok {
					ref.Size = int64(l)
				}
			}
			refs = append(refs, ref)
		}
		return true, nil
	})
	return refs, err
}

// OpenAttachment скачивает вложение документа
func (e *Engine) OpenAttachment(ctx context.Context, ref adapters.AttachmentRef) (io.ReadCloser, error) {
	att, err := e.client.DB(ref.Table).GetAttachment(ctx, ref.DocumentID, ref.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment %s/%s: %w", ref.DocumentID, ref.Name, err)
	}
	return att.Content, nil
}

// Truncate помечает удаленными все документы базы, кроме _design.
// Сначала собираются пары _id/_rev: удаление во время чтения _all_docs
// сдвинуло бы start_key страниц.
func (e *Engine) Truncate(ctx context.Context, table adapters.TableRef) error {
	const chunk = 1000

	var tombstones []any
	err := e.scanDocs(ctx, table.Name, chunk, func(doc map[string]any) (bool, error) {
		tombstones = append(tombstones, map[string]any{
			"_id":      doc["_id"],
			"_rev":     doc["_rev"],
			"_deleted": true,
		})
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("failed to list documents of %s: %w", table.Name, err)
	}

	for start := 0; start < len(tombstones); start += chunk {
		end := min(start+chunk, len(tombstones))
		results, err := e.client.DB(table.Name).BulkDocs(ctx, tombstones[start:end])
		if err != nil {
			return fmt.Errorf("failed to clear %s: %w", table.Name, err)
		}
		for _, r := range results {
			if r.Error != nil {
				return fmt.Errorf("failed to delete document %s: %w", r.ID, r.Error)
			}
		}
	}
	return nil
}

var (
	_ adapters.Engine           = (*Engine)(nil)
	_ adapters.AttachmentSource = (*Engine)(nil)
	_ adapters.Truncater        = (*Engine)(nil)
)
