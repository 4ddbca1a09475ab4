package devapi

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/spsgroup/spsadmin/internal/auth"
	"github.com/spsgroup/spsadmin/internal/forms"
	"github.com/spsgroup/spsadmin/internal/models"
)

const (
	msgForbidden        = "Acesso negado"
	msgUserNotFound     = "Usuário não encontrado"
	msgEmailTaken       = "Email já cadastrado"
	msgInvalidID        = "ID inválido"
	msgInternal         = "Erro interno do servidor"
	msgCannotAssignRole = "Sem permissão para atribuir este tipo de usuário"
)

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse is returned on successful authentication
type LoginResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// UserRequest is the body of user writes, JSON or multipart
type UserRequest struct {
	Name     string `json:"name" form:"name"`
	Email    string `json:"email" form:"email"`
	Role     string `json:"type" form:"type"`
	Password string `json:"password" form:"password"`
}

func (s *Server) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": forms.MsgInvalidCredentials})
		return
	}

	login := forms.NewLoginForm(req.Email, req.Password)

	var account Account
	if err := s.db.Where("email = ?", login.Email).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": forms.MsgInvalidCredentials})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to find user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
		return
	}

	if err := auth.VerifyPassword(login.Password, account.PasswordHash); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": forms.MsgInvalidCredentials})
		return
	}

	user := account.User()
	token, err := s.tokens.GenerateToken(user)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
		return
	}

	s.logger.Info().Int64("user_id", user.ID).Msg("User logged in")
	c.JSON(http.StatusOK, LoginResponse{Token: token, User: user})
}

func (s *Server) listUsers(c *gin.Context) {
	var accounts []Account
	if err := s.db.Order("id ASC").Find(&accounts).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to list users")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
		return
	}

	users := make([]models.User, len(accounts))
	for i, account := range accounts {
		users[i] = account.User()
	}
	c.JSON(http.StatusOK, users)
}

func (s *Server) getUser(c *gin.Context) {
	account, ok := s.findAccount(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, account.User())
}

func (s *Server) createUser(c *gin.Context) {
	actor, _ := GetActor(c)

	_, form, ok := s.bindUserForm(c, false)
	if !ok {
		return
	}
	if !models.CanAssign(actor, form.Role) {
		c.JSON(http.StatusForbidden, gin.H{"error": msgCannotAssignRole})
		return
	}

	avatar, ok := s.readAvatar(c)
	if !ok {
		return
	}

	if taken, err := emailTaken(s.db, form.Email, 0); err != nil {
		s.logger.Error().Err(err).Msg("Failed to check email")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
		return
	} else if taken {
		c.JSON(http.StatusConflict, gin.H{"error": msgEmailTaken})
		return
	}

	passwordHash, err := auth.HashPassword(form.Password)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to hash password")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
		return
	}

	account := &Account{
		Name:         form.Name,
		Email:        form.Email,
		PasswordHash: passwordHash,
		Role:         form.Role,
		Avatar:       avatar,
	}
	if err := s.db.Create(account).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to create user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
		return
	}

	s.logger.Info().
		Int64("user_id", account.ID).
		Int64("created_by", actor.ID).
		Msg("User created")

	c.JSON(http.StatusCreated, account.User())
}

func (s *Server) updateUser(c *gin.Context) {
	actor, _ := GetActor(c)

	account, ok := s.findAccount(c)
	if !ok {
		return
	}
	target := account.User()
	if !models.CanEdit(actor, target) {
		c.JSON(http.StatusForbidden, gin.H{"error": msgForbidden})
		return
	}

	req, form, ok := s.bindUserForm(c, true)
	if !ok {
		return
	}

	// An omitted role keeps the current one
	role := account.Role
	if req.Role != "" {
		role = form.Role
	}
	if role != account.Role {
		if !models.CanChangeRole(actor) || !models.CanAssign(actor, role) ||
			(account.Role == models.RoleSuperAdmin && actor.Role != models.RoleSuperAdmin) {
			c.JSON(http.StatusForbidden, gin.H{"error": msgCannotAssignRole})
			return
		}
	}

	avatar, ok := s.readAvatar(c)
	if !ok {
		return
	}

	if taken, err := emailTaken(s.db, form.Email, account.ID); err != nil {
		s.logger.Error().Err(err).Msg("Failed to check email")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
		return
	} else if taken {
		c.JSON(http.StatusConflict, gin.H{"error": msgEmailTaken})
		return
	}

	account.Name = form.Name
	account.Email = form.Email
	account.Role = role
	if avatar != "" {
		account.Avatar = avatar
	}
	if form.Password != "" {
		passwordHash, err := auth.HashPassword(form.Password)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to hash password")
			c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
			return
		}
		account.PasswordHash = passwordHash
	}

	if err := s.db.Save(&account).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to update user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
		return
	}

	s.logger.Info().
		Int64("user_id", account.ID).
		Int64("updated_by", actor.ID).
		Msg("User updated")

	c.JSON(http.StatusOK, account.User())
}

func (s *Server) deleteUser(c *gin.Context) {
	actor, _ := GetActor(c)

	account, ok := s.findAccount(c)
	if !ok {
		return
	}
	if !models.CanDelete(actor, account.User()) {
		c.JSON(http.StatusForbidden, gin.H{"error": msgForbidden})
		return
	}

	if err := s.db.Delete(&account).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to delete user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
		return
	}

	s.logger.Info().
		Int64("user_id", account.ID).
		Int64("deleted_by", actor.ID).
		Msg("User deleted")

	c.Status(http.StatusNoContent)
}

// findAccount loads the account named by the :id parameter, answering 400 or 404
func (s *Server) findAccount(c *gin.Context) (Account, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidID})
		return Account{}, false
	}

	var account Account
	if err := s.db.Where("id = ?", id).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": msgUserNotFound})
			return Account{}, false
		}
		s.logger.Error().Err(err).Msg("Failed to find user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
		return Account{}, false
	}
	return account, true
}

// bindUserForm decodes a JSON or multipart body and validates it
func (s *Server) bindUserForm(c *gin.Context, editing bool) (UserRequest, forms.UserForm, bool) {
	var req UserRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return req, forms.UserForm{}, false
	}

	form := forms.NewUserForm(req.Name, req.Email, req.Role, req.Password)
	if errs := form.Validate(editing); !errs.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": errs.First(), "fields": errs})
		return req, forms.UserForm{}, false
	}
	return req, form, true
}

// readAvatar returns the uploaded avatar as a data URL, or "" when none was sent
func (s *Server) readAvatar(c *gin.Context) (string, bool) {
	if c.ContentType() != gin.MIMEMultipartPOSTForm {
		return "", true
	}

	header, err := c.FormFile("avatar")
	if errors.Is(err, http.ErrMissingFile) {
		return "", true
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}

	if header.Size > forms.MaxAvatarSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": forms.ErrAvatarTooLarge.Error()})
		return "", false
	}

	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}

	info, err := forms.CheckAvatar(header.Filename, int64(len(data)), bytes.NewReader(data))
	switch {
	case errors.Is(err, forms.ErrAvatarTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return "", false
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": forms.ErrAvatarNotImage.Error()})
		return "", false
	}

	return "data:" + info.ContentType + ";base64," + base64.StdEncoding.EncodeToString(data), true
}
