package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/lib/pq"

	auth "github.com/goliatone/go-knowly-auth"
)

// ErrAccountNotFound is returned when no account matches the lookup
var ErrAccountNotFound = goerrors.New("account not found", goerrors.CategoryNotFound).
	WithTextCode("ACCOUNT_NOT_FOUND").
	WithCode(goerrors.CodeNotFound)

// ErrEmailTaken is returned when an account with the e-mail already exists
var ErrEmailTaken = goerrors.New(auth.MsgUserAlreadyRegistered, goerrors.CategoryConflict).
	WithTextCode("EMAIL_TAKEN").
	WithCode(goerrors.CodeConflict)

// ErrRefreshTokenNotFound is returned when the refresh token is unknown
var ErrRefreshTokenNotFound = goerrors.New("refresh token not found", goerrors.CategoryNotFound).
	WithTextCode("REFRESH_TOKEN_NOT_FOUND").
	WithCode(goerrors.CodeNotFound)

// classifyFetchError maps a profile read error to the FetchResult variant
// the resolver branches on.
func classifyFetchError(err error) auth.FetchResult {
	switch {
	case err == nil:
		return auth.FetchResult{Outcome: auth.FetchFound}
	case isNotFound(err):
		return auth.ProfileMissing()
	case errors.Is(err, context.Canceled):
		return auth.FatalFailure(err)
	case isPermanent(err):
		return auth.FatalFailure(err)
	default:
		return auth.TransientFailure(err)
	}
}

// isPermanent reports schema and permission errors that retrying cannot
// fix. Connection level failures stay transient.
func isPermanent(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			// connection exception, insufficient resources, operator intervention
			return false
		case "42", "22", "28":
			// syntax or access rule, data exception, invalid authorization
			return true
		}
		return false
	}

	return chainContains(err, "no such table", "no such column")
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err)
}

// isUniqueViolation reports duplicate key errors from postgres and sqlite.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return chainContains(err, "unique constraint", "duplicate key")
}

// chainContains matches any of needles against every error in the unwrap
// chain, so driver messages survive wrapping.
func chainContains(err error, needles ...string) bool {
	for e := err; e != nil; e = errors.Unwrap(e) {
		msg := strings.ToLower(e.Error())
		for _, needle := range needles {
			if strings.Contains(msg, needle) {
				return true
			}
		}
	}
	return false
}

// parseID maps text ids to the uuid keys repository.ModelHandlers expects.
// Ids that are not UUIDs map to uuid.Nil.
func parseID(id string) uuid.UUID {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
