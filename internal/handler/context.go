package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mit-lcp/physionet-server/dao/model"
	"github.com/mit-lcp/physionet-server/internal/resputil"
	"github.com/mit-lcp/physionet-server/internal/util"
	"github.com/mit-lcp/physionet-server/pkg/access"
	"github.com/mit-lcp/physionet-server/pkg/quota"
	"github.com/mit-lcp/physionet-server/pkg/submission"
)

// parseIDParam reads a numeric path parameter. On failure it writes the
// error response itself; the caller just returns.
func parseIDParam(c *gin.Context, name string) (uint, error) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		resputil.BadRequestError(c, "Invalid "+name+" parameter")
		return 0, err
	}
	return uint(id), nil
}

// requireProjectAuthor loads the caller's author row on an active
// project. A nil return means the response was already written.
func requireProjectAuthor(c *gin.Context, db *gorm.DB, projectID uint) *model.Author {
	token := util.GetToken(c)
	var author model.Author
	err := db.Where("owner_kind = ? AND owner_id = ? AND user_id = ?",
		model.OwnerActive, projectID, token.UserID).First(&author).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		resputil.Error(c, "Not an author of this project", resputil.UserNotAllowed)
		return nil
	}
	if err != nil {
		resputil.Error(c, err.Error(), resputil.NotSpecified)
		return nil
	}
	return &author
}

// replyServiceError maps the workflow error taxonomy onto response
// codes so every handler reports preconditions the same way.
func replyServiceError(c *gin.Context, err error) {
	if verr, ok := submission.AsValidation(err); ok {
		resputil.ErrorWithData(c, verr.Error(), verr.Reasons, resputil.ValidationFailed)
		return
	}
	if errors.Is(err, submission.ErrInvalidTransition) {
		resputil.Error(c, err.Error(), resputil.InvalidRequest)
		return
	}
	var denial *access.Denial
	if errors.As(err, &denial) {
		resputil.Error(c, denial.Reason, resputil.UserNotAllowed)
		return
	}
	var qerr *quota.Error
	if errors.As(err, &qerr) {
		resputil.Error(c, qerr.Error(), resputil.QuotaExceeded)
		return
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		resputil.Error(c, "Not found", resputil.NotFound)
		return
	}
	resputil.Error(c, err.Error(), resputil.NotSpecified)
}
