package etl

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
	"github.com/ruslano69/tdtp-migrator/pkg/retry"
)

// LoadErrorKind - категория ошибки записи
type LoadErrorKind string

const (
	DuplicateRecord     LoadErrorKind = "DuplicateRecord"
	InvalidReference    LoadErrorKind = "InvalidReference"
	MissingRequiredData LoadErrorKind = "MissingRequiredData"
	PermissionDenied    LoadErrorKind = "PermissionDenied"
	InvalidFormat       LoadErrorKind = "InvalidFormat"
	Timeout             LoadErrorKind = "Timeout"
	LimitExceeded       LoadErrorKind = "LimitExceeded"
	ConnectionFailed    LoadErrorKind = "ConnectionFailed"
	DatabaseError       LoadErrorKind = "DatabaseError"
)

// LoadError - ошибка extract/load с категорией
type LoadError struct {
	Kind  LoadErrorKind
	Table string
	Err   error
}

func (e *LoadError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s on %s: %v", e.Kind, e.Table, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Retryable - имеет ли смысл повторять операцию
func (e *LoadError) Retryable() bool {
	switch e.Kind {
	case Timeout, ConnectionFailed, DatabaseError:
		return true
	}
	return false
}

// patterns проверяются по порядку, первое совпадение определяет категорию.
// Тексты взяты из сообщений драйверов PostgreSQL, MySQL, MS SQL, SQLite,
// MongoDB и CouchDB.
var patterns = []struct {
	kind    LoadErrorKind
	needles []string
}{
	{DuplicateRecord, []string{
		"duplicate", "unique constraint", "unique violation", "violation of primary key",
		"e11000", "document update conflict", "already exists",
	}},
	{InvalidReference, []string{
		"foreign key", "reference constraint", "violates foreign", "no id mapping",
	}},
	{MissingRequiredData, []string{
		"not null", "cannot be null", "null value in column", "cannot insert the value null",
		"doesn't have a default value",
	}},
	{PermissionDenied, []string{
		"permission denied", "access denied", "not authorized", "unauthorized", "forbidden",
		"login failed",
	}},
	{Timeout, []string{
		"timeout", "timed out", "deadline exceeded", "lock wait",
	}},
	{ConnectionFailed, []string{
		"connection refused", "connection reset", "broken pipe", "no such host",
		"bad connection", "server closed", "connection closed", "unexpected eof",
	}},
	{LimitExceeded, []string{
		"too long", "out of range", "value too large", "overflow", "too many",
		"limit exceeded", "would be truncated", "quota",
	}},
	{InvalidFormat, []string{
		"invalid input syntax", "incorrect", "conversion failed", "invalid format",
		"datatype mismatch", "data type mismatch", "cannot parse", "invalid",
	}},
}

// ClassifyError определяет категорию ошибки драйвера
func ClassifyError(err error) LoadErrorKind {
	if err == nil {
		return ""
	}

	var le *LoadError
	if errors.As(err, &le) {
		return le.Kind
	}
	var ce *adapters.ConnectionError
	if errors.As(err, &ce) || errors.Is(err, driver.ErrBadConn) {
		return ConnectionFailed
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	var ve *schema.ValidationError
	if errors.As(err, &ve) {
		return InvalidFormat
	}

	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		for _, n := range p.needles {
			if strings.Contains(msg, n) {
				return p.kind
			}
		}
	}
	return DatabaseError
}

// asLoadError оборачивает ошибку в LoadError, если она еще не такая
func asLoadError(table string, err error) error {
	if err == nil {
		return nil
	}
	var le *LoadError
	if errors.As(err, &le) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled) {
		return err
	}
	return &LoadError{Kind: ClassifyError(err), Table: table, Err: err}
}

// retryable помечает неповторяемые ошибки для retry.Retryer
func retryable(err error) error {
	if err == nil {
		return nil
	}
	le := &LoadError{Kind: ClassifyError(err), Err: err}
	if le.Retryable() {
		return err
	}
	return retry.Permanent(err)
}
