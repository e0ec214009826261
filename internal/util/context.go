package util

import (
	"github.com/gin-gonic/gin"

	"github.com/mit-lcp/physionet-server/dao/model"
)

const (
	UserIDKey   = "x-user-id"
	UsernameKey = "x-user-name"
	RoleKey     = "x-role-platform"
)

func SetJWTContext(c *gin.Context, msg JWTMessage) {
	c.Set(UserIDKey, msg.UserID)
	c.Set(UsernameKey, msg.Username)
	c.Set(RoleKey, msg.Role)
}

func GetToken(ctx *gin.Context) JWTMessage {
	var msg JWTMessage
	msg.UserID = ctx.GetUint(UserIDKey)
	msg.Username = ctx.GetString(UsernameKey)

	role, ok := ctx.Get(RoleKey)
	if ok {
		msg.Role = role.(model.Role)
	} else {
		msg.Role = model.RoleGuest
	}
	return msg
}
