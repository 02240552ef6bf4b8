package handler

import (
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/p4-jakarta/portal-api/internal/models"
	"github.com/p4-jakarta/portal-api/internal/service"
	appErrors "github.com/p4-jakarta/portal-api/pkg/errors"
	"github.com/p4-jakarta/portal-api/pkg/response"
)

const letterFormField = "assignment_letter"

// RegistrationHandler exposes the registration lifecycle endpoints.
type RegistrationHandler struct {
	service   *service.RegistrationService
	approvals *service.ApprovalService
}

// NewRegistrationHandler creates a new registration handler.
func NewRegistrationHandler(svc *service.RegistrationService, approvals *service.ApprovalService) *RegistrationHandler {
	return &RegistrationHandler{service: svc, approvals: approvals}
}

// Register godoc
// @Summary Register for a quota
// @Description Join a training quota. Teachers may attach their assignment letter as multipart field "assignment_letter"; without it the registration stays pending until approval.
// @Tags Registrations
// @Accept json
// @Accept multipart/form-data
// @Produce json
// @Param quota_id formData string true "Quota ID"
// @Param assignment_letter formData file false "Assignment letter (PDF/JPG/PNG)"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /registrations [post]
func (h *RegistrationHandler) Register(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.RegisterRequest
	var letter *service.LetterUpload

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		req.QuotaID = c.PostForm("quota_id")

		fileHeader, err := c.FormFile(letterFormField)
		if err == nil {
			letter, err = readLetterUpload(fileHeader)
			if err != nil {
				response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to read assignment letter"))
				return
			}
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid registration payload"))
		return
	}

	detail, err := h.service.Register(c.Request.Context(), claims.UserID, claims.Role, req, letter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, detail)
}

// ListMine godoc
// @Summary My registrations
// @Description Registrations belonging to the authenticated user, newest first
// @Tags Registrations
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /registrations/mine [get]
func (h *RegistrationHandler) ListMine(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	mine, err := h.service.ListMine(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, mine, nil)
}

// List godoc
// @Summary List registrations
// @Description List registrations with pagination and filtering
// @Tags Registrations
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param quota_id query string false "Quota filter"
// @Param status query string false "Status filter"
// @Param role query string false "Actor role filter"
// @Param sort_by query string false "Sort by"
// @Param sort_order query string false "Sort order"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /registrations [get]
func (h *RegistrationHandler) List(c *gin.Context) {
	var filter models.RegistrationFilter

	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}
	filter.QuotaID = c.Query("quota_id")
	filter.Status = models.RegistrationStatus(c.Query("status"))
	filter.ActorRole = models.UserRole(c.Query("role"))
	filter.SortBy = c.Query("sort_by")
	filter.SortOrder = c.Query("sort_order")

	details, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, details, pagination)
}

// Get godoc
// @Summary Get registration
// @Description Registration detail; non-admins may only see their own
// @Tags Registrations
// @Produce json
// @Param id path string true "Registration ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /registrations/{id} [get]
func (h *RegistrationHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	detail, err := h.service.Get(c.Request.Context(), c.Param("id"), claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Cancel godoc
// @Summary Cancel registration
// @Description Withdraw the caller's own registration, freeing its seat when one was held
// @Tags Registrations
// @Produce json
// @Param id path string true "Registration ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /registrations/{id}/cancel [post]
func (h *RegistrationHandler) Cancel(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	reg, err := h.service.Cancel(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reg, nil)
}

// SubmitLetter godoc
// @Summary Submit assignment letter
// @Description Attach the assignment letter to an approved teacher registration
// @Tags Registrations
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Registration ID"
// @Param assignment_letter formData file true "Assignment letter (PDF/JPG/PNG)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /registrations/{id}/letter [post]
func (h *RegistrationHandler) SubmitLetter(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	fileHeader, err := c.FormFile(letterFormField)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "assignment letter file is required"))
		return
	}
	letter, err := readLetterUpload(fileHeader)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to read assignment letter"))
		return
	}

	detail, err := h.service.SubmitLetter(c.Request.Context(), c.Param("id"), claims.UserID, *letter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// LetterLink godoc
// @Summary Assignment letter download link
// @Description Issue a signed, expiring download token for the stored letter
// @Tags Registrations
// @Produce json
// @Param id path string true "Registration ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /registrations/{id}/letter/link [get]
func (h *RegistrationHandler) LetterLink(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	link, err := h.service.LetterDownloadLink(c.Request.Context(), c.Param("id"), claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// DownloadLetter godoc
// @Summary Download assignment letter
// @Description Stream a stored letter by signed token
// @Tags Registrations
// @Produce application/octet-stream
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Router /registrations/letters/download [get]
func (h *RegistrationHandler) DownloadLetter(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}

	path, fileName, err := h.service.ResolveLetterToken(token)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.FileAttachment(path, fileName)
}

// Approve godoc
// @Summary Approve registration
// @Description Confirm a registration; a pending teacher registration takes its seat here
// @Tags Registrations
// @Produce json
// @Param id path string true "Registration ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /registrations/{id}/approve [post]
func (h *RegistrationHandler) Approve(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	detail, err := h.approvals.Approve(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Reject godoc
// @Summary Reject registration
// @Description Decline a registration with a mandatory reason
// @Tags Registrations
// @Accept json
// @Produce json
// @Param id path string true "Registration ID"
// @Param payload body service.RejectRequest true "Rejection reason"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /registrations/{id}/reject [post]
func (h *RegistrationHandler) Reject(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "a rejection reason is required"))
		return
	}

	detail, err := h.approvals.Reject(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Complete godoc
// @Summary Complete registration
// @Description Mark a confirmed registration as finished, freeing its seat
// @Tags Registrations
// @Produce json
// @Param id path string true "Registration ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /registrations/{id}/complete [post]
func (h *RegistrationHandler) Complete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	detail, err := h.approvals.Complete(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Delete godoc
// @Summary Delete registration
// @Description Remove a registration record entirely, releasing its seat and stored letter
// @Tags Registrations
// @Produce json
// @Param id path string true "Registration ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /registrations/{id} [delete]
func (h *RegistrationHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.approvals.Delete(c.Request.Context(), c.Param("id"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func readLetterUpload(header *multipart.FileHeader) (*service.LetterUpload, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}

	return &service.LetterUpload{
		FileName: header.Filename,
		MIMEType: header.Header.Get("Content-Type"),
		Size:     header.Size,
		Data:     data,
	}, nil
}
