package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"go-school/internal/shared/apperror"
	"go-school/internal/shared/response"
)

type Handler struct {
	service Service
}

func NewHandler(s Service) *Handler {
	return &Handler{service: s}
}

// StreamToken mints a short-lived token for SSE clients. EventSource cannot
// send an Authorization header, so browsers exchange their session token for
// this one and pass it as a query parameter.
func (ctrl *Handler) StreamToken(c *gin.Context) {
	claims := FromGin(c)
	token, expiresIn, err := ctrl.service.IssueStreamToken(claims)
	if err != nil {
		httpErr := apperror.ToHTTP(err)
		response.Error(c, httpErr.Status, httpErr.Code, httpErr.Message, nil)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"token":      token,
		"expires_in": expiresIn,
	}, nil)
}
