package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"go-school/internal/shared/apperror"
)

// Stream tokens ride in the SSE URL query string, so they are deliberately
// short-lived.
const streamTokenTTL = 5 * time.Minute

//go:generate mockgen -source=auth_service.go -destination=mock/auth_service_mock.go -package=mock
type Service interface {
	IssueStreamToken(claims Claims) (token string, expiresIn int, err error)
}

type service struct{}

func NewService() Service {
	return &service{}
}

func (s *service) IssueStreamToken(claims Claims) (string, int, error) {
	now := time.Now()
	mapClaims := jwt.MapClaims{
		"user_id": claims.UserID,
		"role":    claims.Role,
		"stream":  true,
		"iat":     now.Unix(),
		"exp":     now.Add(streamTokenTTL).Unix(),
	}
	if claims.SchoolID != "" {
		mapClaims["school_id"] = claims.SchoolID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, mapClaims)
	signed, err := token.SignedString(secret())
	if err != nil {
		return "", 0, apperror.Wrap(err, apperror.CodeInternalError, "Failed to sign stream token", 500)
	}
	return signed, int(streamTokenTTL.Seconds()), nil
}
