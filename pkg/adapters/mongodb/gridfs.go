package mongodb

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
)

// gridFSFile - запись fs.files. Связь с документом хранится в metadata:
// {collection: "<коллекция>", documentId: <_id документа>, contentType: "..."}
type gridFSFile struct {
	ID       bson.ObjectID `bson:"_id"`
	Filename string        `bson:"filename"`
	Length   int64         `bson:"length"`
	Metadata bson.M        `bson:"metadata"`
}

// ListAttachments возвращает файлы GridFS, привязанные к документам коллекции
func (e *Engine) ListAttachments(ctx context.Context, table string) ([]adapters.AttachmentRef, error) {
	bucket := e.db.GridFSBucket()

	cursor, err := bucket.Find(ctx, bson.D{{Key: "metadata.collection", Value: table}})
	if err != nil {
		return nil, fmt.Errorf("error listing GridFS files for %s: %w", table, err)
	}
	defer cursor.Close(ctx)

	var refs []adapters.AttachmentRef
	for cursor.Next(ctx) {
		var f gridFSFile
		if err := cursor.Decode(&f); err != nil {
			return nil, fmt.Errorf("error decoding GridFS file: %w", err)
		}

		ref := adapters.AttachmentRef{
			Table:     table,
			Name:      f.Filename,
			Size:      f.Length,
			SourceURL: fmt.Sprintf("gridfs://%s/%s", e.name, f.ID.Hex()),
		}
		if id, ok := f.Metadata["documentId"]; ok {
			ref.DocumentID = fmt.Sprint(Flatten(id))
		}
		if ct, ok := f.Metadata["contentType"].(string); ok {
			ref.ContentType = ct
		}
		refs = append(refs, ref)
	}
	return refs, cursor.Err()
}

// OpenAttachment открывает поток чтения файла GridFS
func (e *Engine) OpenAttachment(ctx context.Context, ref adapters.AttachmentRef) (io.ReadCloser, error) {
	hex := ref.SourceURL[strings.LastIndex(ref.SourceURL, "/")+1:]
	id, err := bson.ObjectIDFromHex(hex)
	if err != nil {
		return nil, fmt.Errorf("invalid GridFS file id in %q: %w", ref.SourceURL, err)
	}

	stream, err := e.db.GridFSBucket().OpenDownloadStream(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("error opening GridFS file %s: %w", hex, err)
	}
	return stream, nil
}

var _ adapters.AttachmentSource = (*Engine)(nil)
