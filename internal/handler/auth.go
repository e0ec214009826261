package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/mit-lcp/physionet-server/dao/model"
	"github.com/mit-lcp/physionet-server/internal/resputil"
	"github.com/mit-lcp/physionet-server/internal/util"
)

//nolint:gochecknoinits // This is the standard way to register a gin handler.
func init() {
	Registers = append(Registers, NewAuthMgr)
}

type AuthMgr struct {
	name string
	db   *gorm.DB
}

func NewAuthMgr(conf RegisterConfig) Manager {
	return &AuthMgr{
		name: "auth",
		db:   conf.DB,
	}
}

func (mgr *AuthMgr) GetName() string { return mgr.name }

func (mgr *AuthMgr) RegisterPublic(g *gin.RouterGroup) {
	g.POST("login", mgr.Login)
	g.POST("refresh", mgr.Refresh)
	g.POST("signup", mgr.Signup)
}

func (mgr *AuthMgr) RegisterProtected(_ *gin.RouterGroup) {}

func (mgr *AuthMgr) RegisterEditor(_ *gin.RouterGroup) {}

func (mgr *AuthMgr) RegisterAdmin(_ *gin.RouterGroup) {}

type (
	LoginReq struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	RefreshReq struct {
		RefreshToken string `json:"refreshToken" binding:"required"`
	}
	SignupReq struct {
		Username   string `json:"username" binding:"required"`
		Email      string `json:"email" binding:"required,email"`
		Password   string `json:"password" binding:"required,min=8"`
		FirstNames string `json:"firstNames"`
		LastName   string `json:"lastName"`
	}
	TokenResp struct {
		AccessToken  string     `json:"accessToken"`
		RefreshToken string     `json:"refreshToken"`
		Role         model.Role `json:"role"`
	}
)

// Login godoc
// @Summary Exchange username and password for a token pair
// @Router /v1/auth/login [post]
func (mgr *AuthMgr) Login(c *gin.Context) {
	var req LoginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}

	var user model.User
	err := mgr.db.Where("username = ?", req.Username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		resputil.Error(c, "Invalid username or password", resputil.InvalidCredentials)
		return
	}
	if err != nil {
		resputil.Error(c, err.Error(), resputil.NotSpecified)
		return
	}
	if !user.IsActive || user.Password == nil {
		resputil.Error(c, "Account disabled", resputil.InvalidCredentials)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(*user.Password), []byte(req.Password)) != nil {
		resputil.Error(c, "Invalid username or password", resputil.InvalidCredentials)
		return
	}

	mgr.issueTokens(c, &user)
}

// Refresh godoc
// @Summary Exchange a refresh token for a new token pair
// @Router /v1/auth/refresh [post]
func (mgr *AuthMgr) Refresh(c *gin.Context) {
	var req RefreshReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}

	msg, err := util.GetTokenMgr().CheckToken(req.RefreshToken)
	if err != nil {
		resputil.HTTPError(c, http.StatusUnauthorized, "Invalid refresh token", resputil.TokenExpired)
		return
	}

	// The role is re-read so a promotion or demotion takes effect on
	// the next refresh at the latest.
	var user model.User
	if err := mgr.db.First(&user, msg.UserID).Error; err != nil {
		resputil.Error(c, "User not found", resputil.TokenInvalid)
		return
	}
	if !user.IsActive {
		resputil.Error(c, "Account disabled", resputil.InvalidCredentials)
		return
	}

	mgr.issueTokens(c, &user)
}

// Signup godoc
// @Summary Create a new account
// @Router /v1/auth/signup [post]
func (mgr *AuthMgr) Signup(c *gin.Context) {
	var req SignupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		resputil.Error(c, err.Error(), resputil.NotSpecified)
		return
	}
	hashed := string(hash)
	user := model.User{
		Username:   req.Username,
		Email:      req.Email,
		Password:   &hashed,
		FirstNames: req.FirstNames,
		LastName:   req.LastName,
		Role:       model.RoleUser,
		IsActive:   true,
	}
	if err := mgr.db.Create(&user).Error; err != nil {
		resputil.Error(c, "Username or email already taken", resputil.InvalidRequest)
		return
	}

	mgr.issueTokens(c, &user)
}

func (mgr *AuthMgr) issueTokens(c *gin.Context, user *model.User) {
	msg := util.JWTMessage{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
	}
	access, refresh, err := util.GetTokenMgr().CreateTokens(&msg)
	if err != nil {
		resputil.Error(c, err.Error(), resputil.NotSpecified)
		return
	}
	resputil.Success(c, TokenResp{
		AccessToken:  access,
		RefreshToken: refresh,
		Role:         user.Role,
	})
}
