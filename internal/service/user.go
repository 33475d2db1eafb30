package service

import (
	"github.com/ansontyyeung/AnonymousChatPOC/internal/auth"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/config"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/identity"
	"github.com/ansontyyeung/AnonymousChatPOC/internal/session"
)

// UserService 负责匿名身份的签发，不保存任何用户资料。
type UserService struct {
	cfg config.Config
}

func NewUserService(cfg config.Config) *UserService {
	return &UserService{cfg: cfg}
}

// SignInResult 匿名登录后返回的数据。
type SignInResult struct {
	AccessToken string           `json:"access_token"`
	User        session.Identity `json:"user"`
}

// SignInAnonymous 生成新的匿名 ID 并签发访问令牌。
func (s *UserService) SignInAnonymous() (*SignInResult, error) {
	uid := auth.NewAnonymousID()
	at, err := auth.GenerateAccessToken(uid, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, err
	}
	return &SignInResult{
		AccessToken: at,
		User:        session.Identity{UserID: uid, DisplayName: identity.DisplayName(uid)},
	}, nil
}
