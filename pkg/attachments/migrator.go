package attachments

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"
	"golang.org/x/time/rate"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
	"github.com/ruslano69/tdtp-migrator/pkg/idmap"
	"github.com/ruslano69/tdtp-migrator/pkg/resilience"
	"github.com/ruslano69/tdtp-migrator/pkg/retry"
)

// Summary - итог переноса вложений одной таблицы
type Summary struct {
	Migrated int
	Failed   int
}

// Total возвращает общее количество обработанных вложений
func (s Summary) Total() int { return s.Migrated + s.Failed }

// Migrator переносит вложения документов: download -> checksum -> upload -> запись
type Migrator struct {
	Source  adapters.AttachmentSource
	Store   ObjectStore
	Retryer *retry.Retryer
	Tracker *idmap.Tracker

	// Limiter ограничивает число загрузок в секунду, nil - без ограничения
	Limiter *rate.Limiter

	// Breaker размыкается после серии ошибок хранилища: остальные вложения
	// сразу помечаются failed без повторов. nil - без размыкания.
	Breaker *resilience.Breaker

	// Prefix - префикс ключей объектов в хранилище
	Prefix string

	Logger zerolog.Logger
}

// Migrate переносит все вложения таблицы. Ошибка отдельного вложения
// не прерывает перенос: она записывается и учитывается в Summary.Failed.
func (m *Migrator) Migrate(ctx context.Context, table string) (Summary, error) {
	var sum Summary

	refs, err := m.Source.ListAttachments(ctx, table)
	if err != nil {
		return sum, fmt.Errorf("failed to list attachments of %s: %w", table, err)
	}

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if m.Limiter != nil {
			if err := m.Limiter.Wait(ctx); err != nil {
				return sum, err
			}
		}

		rec := m.migrateOne(ctx, ref)
		if rec.Status == idmap.AttachmentMigrated {
			sum.Migrated++
		} else {
			sum.Failed++
			m.Logger.Warn().
				Str("table", table).
				Str("document", ref.DocumentID).
				Str("attachment", ref.Name).
				Int("attempts", rec.Attempts).
				Msg(rec.Error)
		}
		if m.Tracker != nil {
			if err := m.Tracker.RecordAttachment(ctx, rec); err != nil {
				return sum, err
			}
		}
	}
	return sum, nil
}

func (m *Migrator) migrateOne(ctx context.Context, ref adapters.AttachmentRef) idmap.AttachmentRecord {
	rec := idmap.AttachmentRecord{
		Table:          ref.Table,
		DocumentID:     ref.DocumentID,
		AttachmentName: ref.Name,
		SourceURL:      ref.SourceURL,
		ContentType:    ref.ContentType,
		Size:           ref.Size,
	}
	key := path.Join(m.Prefix, ref.Table, ref.DocumentID, ref.Name)

	attempts, err := m.Retryer.DoCount(ctx, func(ctx context.Context) error {
		body, err := m.Source.OpenAttachment(ctx, ref)
		if err != nil {
			return err
		}
		defer body.Close()

		h := xxh3.New()
		counter := &countingReader{r: io.TeeReader(body, h)}
		var url string
		put := func(ctx context.Context) (err error) {
			url, err = m.Store.Put(ctx, key, counter, ref.Size, ref.ContentType)
			return err
		}
		if m.Breaker != nil {
			err = m.Breaker.Execute(ctx, put)
		} else {
			err = put(ctx)
		}
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return retry.Permanent(err)
		}
		if err != nil {
			return err
		}

		rec.TargetURL = url
		rec.Size = counter.n
		rec.Checksum = checksum(h.Sum64())
		return nil
	})

	rec.Attempts = attempts
	rec.MigratedAt = time.Now().UTC()
	if err != nil {
		rec.Status = idmap.AttachmentFailed
		rec.Error = err.Error()
		return rec
	}
	rec.Status = idmap.AttachmentMigrated
	return rec
}

// checksum - xxh3 в hex, как в контрольных суммах пакетов
func checksum(sum uint64) string {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, sum)
	return hex.EncodeToString(b)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
