// Package service 提供业务逻辑层实现。
package service

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/MorseWayne/library_api/internal/config"
	"github.com/MorseWayne/library_api/internal/domain"
)

// JWT相关错误定义
var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenExpired  = errors.New("token expired")
	ErrTokenNotReady = errors.New("token used before valid")
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Claims 定义JWT载荷结构
type Claims struct {
	UserID   int64           `json:"userId"`
	Username string          `json:"username"`
	Role     domain.UserRole `json:"role"`
	Type     string          `json:"type"` // "access" 或 "refresh"
	jwt.RegisteredClaims
}

// TokenPair 表示访问令牌和刷新令牌对
type TokenPair struct {
	AccessToken          string `json:"accessToken"`
	RefreshToken         string `json:"refreshToken,omitempty"`
	AccessTokenExpiresIn int64  `json:"accessTokenExpiresIn"` // 秒
}

// JWTService 定义JWT服务接口
type JWTService interface {
	GenerateTokenPair(user *domain.User) (*TokenPair, error)
	GenerateAccessToken(user *domain.User) (*TokenPair, error)
	ValidateAccessToken(tokenString string) (*Claims, error)
	ValidateRefreshToken(tokenString string) (*Claims, error)
}

// jwtService 是JWTService接口的实现
type jwtService struct {
	config *config.Config
	logger *zap.Logger
	now    func() time.Time
}

// NewJWTService 创建JWT服务实例
func NewJWTService(cfg *config.Config, logger *zap.Logger) JWTService {
	return &jwtService{
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// secretFor 访问令牌与刷新令牌使用不同的签名密钥
func (s *jwtService) secretFor(tokenType string) []byte {
	if tokenType == tokenTypeRefresh {
		return []byte(s.config.JWT.RefreshSecret)
	}
	return []byte(s.config.JWT.Secret)
}

func (s *jwtService) sign(user *domain.User, tokenType string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		Type:     tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.config.App.Name,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secretFor(tokenType))
	if err != nil {
		s.logger.Error("failed to sign token", zap.String("type", tokenType), zap.Error(err))
		return "", fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

// GenerateTokenPair 登录时签发访问令牌和刷新令牌
func (s *jwtService) GenerateTokenPair(user *domain.User) (*TokenPair, error) {
	accessToken, err := s.sign(user, tokenTypeAccess, s.config.JWT.AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.sign(user, tokenTypeRefresh, s.config.JWT.RefreshTokenTTL)
	if err != nil {
		return nil, err
	}

	s.logger.Info("token pair generated",
		zap.Int64("user_id", user.ID),
		zap.String("username", user.Username),
		zap.Duration("access_ttl", s.config.JWT.AccessTokenTTL),
		zap.Duration("refresh_ttl", s.config.JWT.RefreshTokenTTL),
	)

	return &TokenPair{
		AccessToken:          accessToken,
		RefreshToken:         refreshToken,
		AccessTokenExpiresIn: int64(s.config.JWT.AccessTokenTTL / time.Second),
	}, nil
}

// GenerateAccessToken 刷新流程只签发新的访问令牌，刷新令牌保持不变
func (s *jwtService) GenerateAccessToken(user *domain.User) (*TokenPair, error) {
	accessToken, err := s.sign(user, tokenTypeAccess, s.config.JWT.AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:          accessToken,
		AccessTokenExpiresIn: int64(s.config.JWT.AccessTokenTTL / time.Second),
	}, nil
}

// ValidateAccessToken 验证访问令牌
func (s *jwtService) ValidateAccessToken(tokenString string) (*Claims, error) {
	return s.validateToken(tokenString, tokenTypeAccess)
}

// ValidateRefreshToken 验证刷新令牌
func (s *jwtService) ValidateRefreshToken(tokenString string) (*Claims, error) {
	return s.validateToken(tokenString, tokenTypeRefresh)
}

// validateToken 验证令牌的通用方法
func (s *jwtService) validateToken(tokenString, expectedType string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretFor(expectedType), nil
	}, jwt.WithTimeFunc(s.now), jwt.WithIssuer(s.config.App.Name))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		if errors.Is(err, jwt.ErrTokenNotValidYet) {
			return nil, ErrTokenNotReady
		}
		s.logger.Warn("token validation failed", zap.Error(err))
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Type != expectedType {
		s.logger.Warn("token type mismatch",
			zap.String("expected", expectedType),
			zap.String("actual", claims.Type),
		)
		return nil, ErrInvalidToken
	}

	return claims, nil
}
