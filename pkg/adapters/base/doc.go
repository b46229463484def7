// Package base содержит общую часть SQL-движков: диалекты,
// универсальный Engine поверх database/sql и чтение information_schema.
//
// Пакеты postgres, mysql, mssql и sqlite собирают SQLEngine из этих частей
// и переопределяют только то, что у конкретного драйвера работает иначе
// (например, COPY FROM у PostgreSQL).
package base
