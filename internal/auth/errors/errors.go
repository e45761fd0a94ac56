package errors

import (
	"net/http"

	"go-school/internal/shared/apperror"
)

var (
	ErrInvalidToken = apperror.New("INVALID_TOKEN", "Invalid token", http.StatusUnauthorized)
	ErrTokenExpired = apperror.New("TOKEN_EXPIRED", "Token has expired", http.StatusUnauthorized)
	ErrUnauthorized = apperror.New(apperror.CodeUnauthorized, "Authentication required", http.StatusUnauthorized)
	ErrForbidden    = apperror.New(apperror.CodeForbidden, "You do not have access to this resource", http.StatusForbidden)
	ErrStreamToken  = apperror.New(apperror.CodeForbidden, "A stream token is required for this endpoint", http.StatusForbidden)
)
