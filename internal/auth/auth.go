package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ansontyyeung/AnonymousChatPOC/internal/config"
	applog "github.com/ansontyyeung/AnonymousChatPOC/internal/log"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims 只携带匿名用户 ID，服务端不保存任何用户资料。
type Claims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// NewAnonymousID 为匿名登录生成一个不透明且稳定的用户 ID。
func NewAnonymousID() string {
	return uuid.NewString()
}

func GenerateAccessToken(userID string, secret string, ttlMinutes int) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlMinutes) * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseAccessToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.UserID != "" {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// BearerToken 取出 Authorization: Bearer 头中的令牌，没有则返回空串。
func BearerToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if len(authz) < len("Bearer ") || !strings.EqualFold(authz[:len("Bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(authz[len("Bearer "):])
}

// AuthMiddleware 校验访问令牌，把用户 ID 写入 gin 上下文和请求 logger。
func AuthMiddleware(cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := BearerToken(c.Request)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "unauthorized", "message": "missing bearer token"}})
			return
		}
		claims, err := ParseAccessToken(tokenStr, cfg.JWTSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "unauthorized", "message": "invalid token"}})
			return
		}
		c.Set("userID", claims.UserID)
		ctx := c.Request.Context()
		logger := applog.Ctx(ctx).With().Str("user_id", claims.UserID).Logger()
		c.Request = c.Request.WithContext(applog.WithLogger(ctx, logger))
		c.Next()
	}
}

func GetUserID(c *gin.Context) string {
	return c.GetString("userID")
}
