package repository

import (
	"github.com/jackc/pgx/v5/pgconn"
)

// pgconnUniqueViolation mimics the error PostgreSQL raises on a unique
// constraint conflict.
var pgconnUniqueViolation = pgconn.PgError{Code: pgUniqueViolation}

// pgconnForeignKeyViolation mimics the error PostgreSQL raises on a foreign
// key violation.
var pgconnForeignKeyViolation = pgconn.PgError{Code: pgForeignKeyViolation}
