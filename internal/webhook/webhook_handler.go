package webhook

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"go-school/internal/school"
	"go-school/internal/shared/apperror"
	"go-school/internal/shared/contextutil"
	"go-school/internal/shared/response"
)

// Multipart field names devices use for the event body. Firmware versions
// disagree on casing, so all known variants are tried in order.
var eventFieldNames = []string{
	"AccessControllerEvent", "accessControllerEvent",
	"event", "Event", "data", "Data",
}

type Handler struct {
	service Service
	schools school.Repository
	logger  *zap.Logger

	enforceSecret bool
	uploadsDir    string
}

func NewHandler(service Service, schools school.Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	uploadsDir := os.Getenv("UPLOADS_DIR")
	if uploadsDir == "" {
		uploadsDir = "uploads"
	}
	return &Handler{
		service:       service,
		schools:       schools,
		logger:        logger.Named("webhook.handler"),
		enforceSecret: os.Getenv("WEBHOOK_ENFORCE_SECRET") == "true",
		uploadsDir:    uploadsDir,
	}
}

// Receive handles POST /webhook/:schoolId/:direction. Device-side problems
// (unknown sub event, unparseable body fields) are acknowledged with
// ok=true so the device stops retrying; only our own failures return 5xx.
func (h *Handler) Receive(c *gin.Context) {
	logger := contextutil.GetLogger(c.Request.Context(), h.logger)

	direction := c.Param("direction")
	if direction != "in" && direction != "out" {
		httpErr := apperror.ToHTTP(apperror.New(apperror.CodeInvalidInput, "Direction must be 'in' or 'out'", http.StatusBadRequest))
		response.Error(c, httpErr.Status, httpErr.Code, httpErr.Message, nil)
		return
	}

	sch, err := h.schools.FindByID(c.Request.Context(), c.Param("schoolId"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpErr := apperror.ToHTTP(apperror.New(apperror.CodeNotFound, "School not found", http.StatusNotFound))
			response.Error(c, httpErr.Status, httpErr.Code, httpErr.Message, nil)
			return
		}
		httpErr := apperror.ToHTTP(err)
		response.Error(c, httpErr.Status, httpErr.Code, httpErr.Message, nil)
		return
	}

	if h.enforceSecret && !h.secretMatches(c, sch, direction) {
		httpErr := apperror.ToHTTP(apperror.New(apperror.CodeForbidden, "Invalid webhook secret", http.StatusForbidden))
		response.Error(c, httpErr.Status, httpErr.Code, httpErr.Message, nil)
		return
	}

	body, photoURL := h.extractBody(c)
	if body == nil {
		httpErr := apperror.ToHTTP(apperror.New(apperror.CodeInvalidInput, "Missing access controller event", http.StatusBadRequest))
		response.Error(c, httpErr.Status, httpErr.Code, httpErr.Message, nil)
		return
	}

	scan := NormalizeScan(body)
	if scan == nil {
		logger.Debug("non-recognition event ignored", zap.String("school_id", sch.ID.String()))
		c.JSON(http.StatusOK, Result{OK: true, Ignored: true})
		return
	}

	result, err := h.service.Process(c.Request.Context(), sch, direction, scan, photoURL)
	if err != nil {
		logger.Error("webhook processing failed", zap.Error(err))
		httpErr := apperror.ToHTTP(err)
		response.Error(c, httpErr.Status, httpErr.Code, httpErr.Message, nil)
		return
	}

	c.JSON(http.StatusOK, result)
}

// secretMatches accepts the per-direction school secret from either the
// secret query parameter or the X-Webhook-Secret header. Some devices
// cannot set custom headers, others cannot append query parameters.
func (h *Handler) secretMatches(c *gin.Context, sch *school.School, direction string) bool {
	provided := c.Query("secret")
	if provided == "" {
		provided = c.GetHeader("X-Webhook-Secret")
	}
	if provided == "" {
		return false
	}
	expected := sch.WebhookSecretIn
	if direction == "out" {
		expected = sch.WebhookSecretOut
	}
	return expected != nil && provided == *expected
}

// extractBody returns the raw event JSON and, for multipart deliveries that
// include a face capture, the saved picture path.
func (h *Handler) extractBody(c *gin.Context) ([]byte, *string) {
	contentType := c.ContentType()
	if !strings.Contains(contentType, "multipart") {
		body, err := c.GetRawData()
		if err != nil || len(body) == 0 {
			return nil, nil
		}
		return body, nil
	}

	form, err := c.MultipartForm()
	if err != nil {
		return nil, nil
	}

	var body []byte
	for _, field := range eventFieldNames {
		if values, ok := form.Value[field]; ok && len(values) > 0 {
			body = []byte(values[0])
			break
		}
	}
	if body == nil {
		return nil, nil
	}

	var photoURL *string
	for _, field := range []string{"Picture", "picture"} {
		files, ok := form.File[field]
		if !ok || len(files) == 0 {
			continue
		}
		if saved := h.savePicture(c, files[0]); saved != "" {
			photoURL = &saved
		}
		break
	}
	return body, photoURL
}

func (h *Handler) savePicture(c *gin.Context, file *multipart.FileHeader) string {
	if err := os.MkdirAll(h.uploadsDir, 0o755); err != nil {
		h.logger.Warn("uploads dir create failed", zap.Error(err))
		return ""
	}
	dest := filepath.Join(h.uploadsDir, fmt.Sprintf("%d-face.jpg", time.Now().UnixMilli()))
	if err := c.SaveUploadedFile(file, dest); err != nil {
		h.logger.Warn("picture save failed", zap.Error(err))
		return ""
	}
	return filepath.ToSlash(dest)
}
