package auth

import (
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	autherrors "go-school/internal/auth/errors"
)

// Claims is the identity carried by every authenticated request.
// SchoolID is empty for SUPER_ADMIN tokens, which are not scoped to one
// school. Stream marks short-lived tokens minted for SSE connections.
type Claims struct {
	UserID   string
	Role     string
	SchoolID string
	Stream   bool
}

func secret() []byte {
	return []byte(os.Getenv("JWT_SECRET"))
}

// ParseToken verifies an HMAC-signed token and extracts our claims.
func ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return secret(), nil
	})
	if err != nil {
		if strings.Contains(err.Error(), "expired") {
			return nil, autherrors.ErrTokenExpired
		}
		return nil, autherrors.ErrInvalidToken
	}
	if !token.Valid {
		return nil, autherrors.ErrInvalidToken
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, autherrors.ErrInvalidToken
	}

	userID, _ := mapClaims["user_id"].(string)
	if userID == "" {
		return nil, autherrors.ErrInvalidToken
	}
	role, _ := mapClaims["role"].(string)
	if role == "" {
		return nil, autherrors.ErrInvalidToken
	}
	schoolID, _ := mapClaims["school_id"].(string)
	if schoolID == "" && role != RoleSuperAdmin {
		return nil, autherrors.ErrInvalidToken
	}
	stream, _ := mapClaims["stream"].(bool)

	return &Claims{
		UserID:   userID,
		Role:     role,
		SchoolID: schoolID,
		Stream:   stream,
	}, nil
}

// FromGin reads the claims the auth middleware stored on the request.
func FromGin(c *gin.Context) Claims {
	return Claims{
		UserID:   c.GetString("user_id"),
		Role:     c.GetString("role"),
		SchoolID: c.GetString("school_id"),
		Stream:   c.GetBool("stream"),
	}
}
