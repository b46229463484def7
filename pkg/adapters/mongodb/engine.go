package mongodb

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
)

// DefaultSampleSize - сколько документов читается для вывода колонок коллекции
const DefaultSampleSize = 100

func init() {
	adapters.Register(schema.KindMongoDB, adapters.Driver{Open: Open, DSN: BuildDSN})
}

// Engine - движок MongoDB. Коллекция = таблица, поля верхнего уровня = колонки.
type Engine struct {
	client     *mongo.Client
	db         *mongo.Database
	name       string
	sampleSize int
}

// Open подключается к MongoDB. В v2 драйвера Connect не ходит в сеть,
// доступность проверяется Ping в фабрике.
func Open(ctx context.Context, cfg adapters.Config) (adapters.Engine, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("mongodb: database name is required")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	sample := DefaultSampleSize
	if s, ok := cfg.Options["sampleSize"]; ok {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			sample = n
		}
	}

	return &Engine{
		client:     client,
		db:         client.Database(cfg.Database),
		name:       cfg.Database,
		sampleSize: sample,
	}, nil
}

// BuildDSN строит mongodb:// URI
func BuildDSN(conn adapters.Connection, creds adapters.Credentials) string {
	port := conn.Port
	if port == 0 {
		port = 27017
	}
	q := url.Values{}
	if creds.User != "" {
		q.Set("authSource", "admin")
	}
	for k, v := range conn.Options {
		if k == "sampleSize" {
			continue
		}
		q.Set(k, v)
	}
	u := url.URL{
		Scheme:   "mongodb",
		Host:     net.JoinHostPort(conn.Host, strconv.Itoa(port)),
		Path:     "/" + conn.Database,
		RawQuery: q.Encode(),
	}
	if creds.User != "" {
		u.User = url.UserPassword(creds.User, creds.Password)
	}
	return u.String()
}

func (e *Engine) Kind() schema.EngineKind { return schema.KindMongoDB }

// Ping проверяет доступность primary
func (e *Engine) Ping(ctx context.Context) error {
	return e.client.Ping(ctx, readpref.Primary())
}

// Close отключает клиента
func (e *Engine) Close() error {
	return e.client.Disconnect(context.Background())
}

// DiscoverSchema выводит колонки каждой коллекции по выборке документов
func (e *Engine) DiscoverSchema(ctx context.Context) (*schema.Database, error) {
	names, err := e.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, &adapters.SchemaDiscoveryError{Engine: schema.KindMongoDB, Database: e.name, Err: err}
	}
	sort.Strings(names)

	result := &schema.Database{Kind: schema.KindMongoDB, Name: e.name}
	for _, name := range names {
		if isSystemCollection(name) {
			continue
		}
		cols, err := e.sampleColumns(ctx, name)
		if err != nil {
			return nil, &adapters.SchemaDiscoveryError{Engine: schema.KindMongoDB, Database: e.name, Table: name, Err: err}
		}
		result.Tables = append(result.Tables, schema.Table{Name: name, Columns: cols})
	}
	return result, nil
}

func isSystemCollection(name string) bool {
	return strings.HasPrefix(name, "system.") || strings.HasSuffix(name, ".files") || strings.HasSuffix(name, ".chunks")
}

// sampleColumns объединяет поля выборки документов в порядке первого появления
func (e *Engine) sampleColumns(ctx context.Context, collection string) ([]schema.Column, error) {
	cursor, err := e.db.Collection(collection).Find(ctx, bson.D{}, options.Find().SetLimit(int64(e.sampleSize)))
	if err != nil {
		return nil, fmt.Errorf("error querying collection %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	inf := newInference()
	docs := 0
	for cursor.Next(ctx) {
		var doc bson.D
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("error decoding document: %w", err)
		}
		docs++
		for _, el := range doc {
			inf.observe(el.Key, el.Value)
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return inf.columns(docs, "_id"), nil
}

// ExtractBatches читает коллекцию курсором порциями.
// Вложенные документы и массивы отдаются JSON-строкой, ObjectID - hex-строкой.
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

	opts := options.Find().SetBatchSize(int32(req.BatchSize)).SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := e.db.Collection(req.Table.Name).Find(ctx, bson.D{}, opts)
	if err != nil {
		return fmt.Errorf("error querying collection %s: %w", req.Table.Name, err)
	}
	defer cursor.Close(ctx)

	batch := adapters.Batch{Columns: columns, Rows: make([][]any, 0, req.BatchSize)}
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return fmt.Errorf("error decoding document: %w", err)
		}
		row := make([]any, len(columns))
		for i, c := range columns {
			row[i] = Flatten(doc[c])
		}
		batch.Rows = append(batch.Rows, row)

		if len(batch.Rows) == req.BatchSize {
			if err := fn(ctx, batch); err != nil {
				return err
			}
			batch = adapters.Batch{Columns: columns, Rows: make([][]any, 0, req.BatchSize)}
		}
	}
	if err := cursor.Err(); err != nil {
		return err
	}
	if len(batch.Rows) > 0 {
		return fn(ctx, batch)
	}
	return nil
}

// LoadBatch вставляет документы InsertMany (ordered). MongoDB не дает
// транзакции без replica set, поэтому при ошибке часть порции может остаться.
func (e *Engine) LoadBatch(ctx context.Context, table adapters.TableRef, batch adapters.Batch) (int64, error) {
	if batch.Len() == 0 {
		return 0, nil
	}

	docs := make([]any, 0, batch.Len())
	for _, r := range batch.Rows {
		doc := make(bson.D, 0, len(batch.Columns))
		for i, c := range batch.Columns {
			if r[i] == nil && c == "_id" {
				continue
			}
			doc = append(doc, bson.E{Key: c, Value: r[i]})
		}
		docs = append(docs, doc)
	}

	res, err := e.db.Collection(table.Name).InsertMany(ctx, docs)
	if err != nil {
		var inserted int64
		if res != nil {
			inserted = int64(len(res.InsertedIDs))
		}
		return inserted, fmt.Errorf("error inserting documents into %s: %w", table.Name, err)
	}
	return int64(len(res.InsertedIDs)), nil
}

// RowCount возвращает точное количество документов
func (e *Engine) RowCount(ctx context.Context, table adapters.TableRef) (int64, error) {
	n, err := e.db.Collection(table.Name).CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("error counting documents in %s: %w", table.Name, err)
	}
	return n, nil
}

// Truncate удаляет все документы коллекции, индексы остаются
func (e *Engine) Truncate(ctx context.Context, table adapters.TableRef) error {
	if _, err := e.db.Collection(table.Name).DeleteMany(ctx, bson.D{}); err != nil {
		return fmt.Errorf("error clearing collection %s: %w", table.Name, err)
	}
	return nil
}

var (
	_ adapters.Engine    = (*Engine)(nil)
	_ adapters.Truncater = (*Engine)(nil)
)
