package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mit-lcp/physionet-server/dao/model"
	"github.com/mit-lcp/physionet-server/internal/resputil"
	"github.com/mit-lcp/physionet-server/internal/util"
)

//nolint:gochecknoinits // This is the standard way to register a gin handler.
func init() {
	Registers = append(Registers, NewUserMgr)
}

type UserMgr struct {
	name string
	db   *gorm.DB
}

func NewUserMgr(conf RegisterConfig) Manager {
	return &UserMgr{
		name: "user",
		db:   conf.DB,
	}
}

func (mgr *UserMgr) GetName() string { return mgr.name }

func (mgr *UserMgr) RegisterPublic(_ *gin.RouterGroup) {}

func (mgr *UserMgr) RegisterProtected(g *gin.RouterGroup) {
	g.GET("profile", mgr.GetProfile)
	g.PUT("profile", mgr.UpdateProfile)
}

func (mgr *UserMgr) RegisterEditor(_ *gin.RouterGroup) {}

func (mgr *UserMgr) RegisterAdmin(g *gin.RouterGroup) {
	g.GET("users", mgr.ListUsers)
	g.PUT("users/:id/role", mgr.SetRole)
	g.PUT("users/:id/credentialed", mgr.SetCredentialed)
	g.POST("users/:id/trainings", mgr.AddTrainingRecord)
}

type (
	ProfileResp struct {
		ID             uint       `json:"id"`
		Username       string     `json:"username"`
		Email          string     `json:"email"`
		FirstNames     string     `json:"firstNames"`
		LastName       string     `json:"lastName"`
		Role           model.Role `json:"role"`
		IsCredentialed bool       `json:"isCredentialed"`
	}
	UpdateProfileReq struct {
		FirstNames string `json:"firstNames"`
		LastName   string `json:"lastName"`
	}
	SetRoleReq struct {
		Role model.Role `json:"role" binding:"required"`
	}
	SetCredentialedReq struct {
		Credentialed bool `json:"credentialed"`
	}
	AddTrainingReq struct {
		TrainingTypeID uint       `json:"trainingTypeID" binding:"required"`
		CompletedAt    time.Time  `json:"completedAt" binding:"required"`
		ExpiresAt      *time.Time `json:"expiresAt"`
	}
)

func profileResp(user *model.User) ProfileResp {
	return ProfileResp{
		ID:             user.ID,
		Username:       user.Username,
		Email:          user.Email,
		FirstNames:     user.FirstNames,
		LastName:       user.LastName,
		Role:           user.Role,
		IsCredentialed: user.IsCredentialed,
	}
}

func (mgr *UserMgr) GetProfile(c *gin.Context) {
	token := util.GetToken(c)
	var user model.User
	if err := mgr.db.First(&user, token.UserID).Error; err != nil {
		resputil.Error(c, "User not found", resputil.NotFound)
		return
	}
	resputil.Success(c, profileResp(&user))
}

func (mgr *UserMgr) UpdateProfile(c *gin.Context) {
	token := util.GetToken(c)
	var req UpdateProfileReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	err := mgr.db.Model(&model.User{}).Where("id = ?", token.UserID).
		Updates(map[string]any{
			"first_names": req.FirstNames,
			"last_name":   req.LastName,
		}).Error
	if err != nil {
		resputil.Error(c, err.Error(), resputil.NotSpecified)
		return
	}
	resputil.Success(c, "Profile updated")
}

func (mgr *UserMgr) ListUsers(c *gin.Context) {
	var users []model.User
	if err := mgr.db.Order("id").Find(&users).Error; err != nil {
		resputil.Error(c, err.Error(), resputil.NotSpecified)
		return
	}
	resp := make([]ProfileResp, 0, len(users))
	for i := range users {
		resp = append(resp, profileResp(&users[i]))
	}
	resputil.Success(c, resp)
}

func (mgr *UserMgr) SetRole(c *gin.Context) {
	userID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	var req SetRoleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	if req.Role < model.RoleGuest || req.Role > model.RoleAdmin {
		resputil.BadRequestError(c, "Unknown role")
		return
	}
	res := mgr.db.Model(&model.User{}).Where("id = ?", userID).Update("role", req.Role)
	if res.Error != nil {
		resputil.Error(c, res.Error.Error(), resputil.NotSpecified)
		return
	}
	if res.RowsAffected == 0 {
		resputil.Error(c, "User not found", resputil.NotFound)
		return
	}
	resputil.Success(c, "Role updated")
}

func (mgr *UserMgr) SetCredentialed(c *gin.Context) {
	userID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	var req SetCredentialedReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	res := mgr.db.Model(&model.User{}).Where("id = ?", userID).
		Update("is_credentialed", req.Credentialed)
	if res.Error != nil {
		resputil.Error(c, res.Error.Error(), resputil.NotSpecified)
		return
	}
	if res.RowsAffected == 0 {
		resputil.Error(c, "User not found", resputil.NotFound)
		return
	}
	resputil.Success(c, "Credential flag updated")
}

func (mgr *UserMgr) AddTrainingRecord(c *gin.Context) {
	userID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	var req AddTrainingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	record := model.TrainingRecord{
		UserID:         userID,
		TrainingTypeID: req.TrainingTypeID,
		CompletedAt:    req.CompletedAt,
		ExpiresAt:      req.ExpiresAt,
	}
	if err := mgr.db.Create(&record).Error; err != nil {
		resputil.Error(c, err.Error(), resputil.NotSpecified)
		return
	}
	resputil.Success(c, record.ID)
}
