package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/thereayou/voxus/internal/database"
	"github.com/thereayou/voxus/internal/handlers/dto"
	"github.com/thereayou/voxus/internal/models"
	"github.com/thereayou/voxus/pkg/auth"
)

type UserStore interface {
	SaveUser(ctx context.Context, user *models.User) error
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// TokenRevoker отзывает токен при logout
type TokenRevoker interface {
	Revoke(ctx context.Context, token string, ttl time.Duration) error
}

type AuthHandler struct {
	users      UserStore
	jwtManager *auth.JWTManager
	revoker    TokenRevoker
	log        *zap.Logger
}

func NewAuthHandler(users UserStore, jwtMgr *auth.JWTManager, revoker TokenRevoker, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{users: users, jwtManager: jwtMgr, revoker: revoker, log: log}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.log.Error("hash password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "cannot hash password"})
		return
	}

	user := &models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}

	if err := h.users.SaveUser(c.Request.Context(), user); err != nil {
		if errors.Is(err, database.ErrUserExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "user_exists", "message": "email or username is already taken"})
			return
		}
		h.log.Error("create user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "failed to create user"})
		return
	}

	token, exp, err := h.jwtManager.Generate(user.ID)
	if err != nil {
		h.log.Error("generate token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not generate token"})
		return
	}

	c.JSON(http.StatusCreated, dto.RegisterResponse{
		Uid:            user.ID.String(),
		Token:          token,
		TokenExpiresAt: exp.UTC().Format(time.RFC3339),
	})
}

// Login выдаёт JWT
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	user, err := h.users.FindUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			h.log.Error("find user", zap.Error(err))
		}
		invalidCredentials(c)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		invalidCredentials(c)
		return
	}

	token, exp, err := h.jwtManager.Generate(user.ID)
	if err != nil {
		h.log.Error("generate token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not generate token"})
		return
	}

	c.JSON(http.StatusOK, dto.LoginResponse{
		Token:          token,
		TokenExpiresAt: exp.UTC().Format(time.RFC3339),
	})
}

// Logout ставит токен в черный список до истечения. Без Redis отзывать некуда,
// токен просто доживает свой срок.
func (h *AuthHandler) Logout(c *gin.Context) {
	rawToken, err := auth.ExtractTokenFromHeader(c.Request)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	exp, err := h.jwtManager.Expiry(rawToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": "invalid token"})
		return
	}

	if h.revoker == nil {
		c.Status(http.StatusOK)
		return
	}
	if err := h.revoker.Revoke(c.Request.Context(), rawToken, time.Until(exp)); err != nil {
		h.log.Error("revoke token", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage_failure", "message": "could not sign out, please try again"})
		return
	}

	c.Status(http.StatusOK)
}

func invalidCredentials(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": "invalid credentials"})
}
