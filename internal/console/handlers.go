package console

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/spsgroup/spsadmin/internal/authctx"
	"github.com/spsgroup/spsadmin/internal/cli/client"
	"github.com/spsgroup/spsadmin/internal/forms"
	"github.com/spsgroup/spsadmin/internal/models"
)

// Flash keys carried in the ?msg= query after a redirect
var flashes = map[string]string{
	"created": forms.MsgUserCreated,
	"updated": forms.MsgUserUpdated,
}

// authFrom returns the provider of the request, answering 500 when it is missing
func (s *Server) authFrom(c *gin.Context) (*authctx.Provider, models.User, bool) {
	p, err := authctx.FromContext(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("request without auth context")
		c.String(http.StatusInternalServerError, "Erro interno")
		return nil, models.User{}, false
	}
	me, _ := p.User()
	return p, me, true
}

// sessionExpired redirects to sign-in when err comes from a forced logout
func (s *Server) sessionExpired(c *gin.Context, err error) bool {
	if !client.IsSessionExpired(err) {
		return false
	}
	if err := s.provider.Reload(c.Request.Context()); err != nil {
		s.logger.Error().Err(err).Msg("failed to reload session")
	}
	c.Redirect(http.StatusFound, signInPath)
	return true
}

func (s *Server) signInPage(c *gin.Context) {
	s.render(c, http.StatusOK, "signin", pageData{Title: "Entrar"})
}

func (s *Server) signIn(c *gin.Context) {
	p, _, ok := s.authFrom(c)
	if !ok {
		return
	}

	form := forms.NewLoginForm(c.PostForm("email"), c.PostForm("password"))
	if errs := form.Validate(); !errs.Empty() {
		s.render(c, http.StatusBadRequest, "signin", pageData{Title: "Entrar", Email: form.Email, Fields: errs})
		return
	}

	resp, err := s.api.Login(c.Request.Context(), form.Email, form.Password)
	if err != nil {
		s.logger.Debug().Err(err).Msg("sign-in rejected")
		s.render(c, http.StatusUnauthorized, "signin", pageData{
			Title: "Entrar", Email: form.Email, Error: forms.MsgInvalidCredentials,
		})
		return
	}

	if err := p.Login(c.Request.Context(), resp.User, resp.Token); err != nil {
		s.logger.Error().Err(err).Msg("failed to store session")
		s.render(c, http.StatusInternalServerError, "signin", pageData{
			Title: "Entrar", Email: form.Email, Error: "Erro ao salvar a sessão",
		})
		return
	}
	c.Redirect(http.StatusFound, usersPath)
}

func (s *Server) signOut(c *gin.Context) {
	p, _, ok := s.authFrom(c)
	if !ok {
		return
	}
	if err := p.Logout(c.Request.Context()); err != nil {
		s.logger.Error().Err(err).Msg("failed to clear session")
	}
	c.Redirect(http.StatusFound, signInPath)
}

func (s *Server) toggleTheme(c *gin.Context) {
	if _, err := s.themes.ToggleTheme(c.Request.Context()); err != nil {
		s.logger.Error().Err(err).Msg("failed to save theme")
	}

	back := usersPath
	if ref, err := url.Parse(c.GetHeader("Referer")); err == nil && ref.Path != "" && ref.Host == c.Request.Host {
		back = ref.RequestURI()
	}
	c.Redirect(http.StatusFound, back)
}

func (s *Server) listUsers(c *gin.Context) {
	data := pageData{Title: "Gerenciamento de Usuários", Flash: flashes[c.Query("msg")]}

	users, err := s.api.ListUsers(c.Request.Context())
	if err != nil {
		if s.sessionExpired(c, err) {
			return
		}
		s.logger.Warn().Err(err).Msg("failed to load users")
		data.Error = forms.MsgLoadUsersFailed
	}
	data.Users = users
	s.render(c, http.StatusOK, "users", data)
}

func (s *Server) viewUser(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}

	user, err := s.api.GetUser(c.Request.Context(), id)
	if err != nil {
		if s.sessionExpired(c, err) {
			return
		}
		s.render(c, http.StatusOK, "user_view", pageData{Title: "Detalhes do Usuário", Error: forms.MsgLoadUserFailed})
		return
	}
	s.render(c, http.StatusOK, "user_view", pageData{Title: "Detalhes do Usuário", User: user})
}

func (s *Server) newUserPage(c *gin.Context) {
	_, me, ok := s.authFrom(c)
	if !ok {
		return
	}
	s.renderForm(c, http.StatusOK, me, nil, forms.UserForm{Role: models.RoleUser}, nil, "")
}

func (s *Server) editUserPage(c *gin.Context) {
	_, me, ok := s.authFrom(c)
	if !ok {
		return
	}
	id, ok := userID(c)
	if !ok {
		return
	}

	user, err := s.api.GetUser(c.Request.Context(), id)
	if err != nil {
		if s.sessionExpired(c, err) {
			return
		}
		s.renderForm(c, http.StatusOK, me, &models.User{ID: id}, forms.UserForm{}, nil, forms.MsgLoadUserFailed)
		return
	}
	s.renderForm(c, http.StatusOK, me, user, forms.UserFormFrom(*user), nil, "")
}

func (s *Server) createUser(c *gin.Context) {
	s.saveUser(c, nil)
}

func (s *Server) updateUser(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}
	s.saveUser(c, &id)
}

// saveUser validates the form locally and sends it only when it is valid. id is nil
// when creating.
func (s *Server) saveUser(c *gin.Context, id *int64) {
	p, me, ok := s.authFrom(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	editing := id != nil

	form := forms.NewUserForm(c.PostForm("name"), c.PostForm("email"), c.PostForm("type"), c.PostForm("password"))

	var target *models.User
	if editing {
		target = &models.User{ID: *id, Name: form.Name, Email: form.Email}
	}

	fields := form.Validate(editing)

	avatar, err := readAvatar(c)
	if err != nil {
		fields["avatar"] = err.Error()
	}

	if !fields.Empty() {
		s.renderForm(c, http.StatusBadRequest, me, target, form, fields, "")
		return
	}

	// A role the actor may not hand out is never sent: an edit keeps the stored role
	// and a new account gets "user"
	in := form.Input()
	if !models.CanChangeRole(me) || !models.CanAssign(me, form.Role) {
		in.Role = models.RoleUser
		if editing {
			in.Role = ""
		}
	}

	var saved *models.User
	if editing {
		saved, err = s.api.UpdateUserWithFile(ctx, *id, in, avatar)
	} else {
		saved, err = s.api.CreateUserWithFile(ctx, in, avatar)
	}
	if err != nil {
		if s.sessionExpired(c, err) {
			return
		}
		s.logger.Warn().Err(err).Msg("failed to save user")
		s.renderForm(c, http.StatusOK, me, target, form, nil, forms.SaveErrorMessage(err))
		return
	}

	if editing && saved.ID == me.ID {
		if err := p.UpdateUser(ctx, *saved); err != nil {
			s.logger.Error().Err(err).Msg("failed to refresh signed-in user")
		}
	}

	msg := "created"
	if editing {
		msg = "updated"
	}
	c.Redirect(http.StatusFound, usersPath+"?msg="+msg)
}

func (s *Server) deleteUser(c *gin.Context) {
	p, me, ok := s.authFrom(c)
	if !ok {
		return
	}
	id, ok := userID(c)
	if !ok {
		return
	}

	if err := s.api.DeleteUser(c.Request.Context(), id); err != nil {
		if s.sessionExpired(c, err) {
			return
		}
		s.logger.Warn().Err(err).Int64("user_id", id).Msg("failed to delete user")
		users, err := s.api.ListUsers(c.Request.Context())
		if err != nil {
			if s.sessionExpired(c, err) {
				return
			}
			s.logger.Warn().Err(err).Msg("failed to load users")
		}
		s.render(c, http.StatusOK, "users", pageData{
			Title: "Gerenciamento de Usuários", Users: users, Error: forms.MsgDeleteFailed,
		})
		return
	}

	if id == me.ID {
		if err := p.Logout(c.Request.Context()); err != nil {
			s.logger.Error().Err(err).Msg("failed to clear session")
		}
		c.Redirect(http.StatusFound, signInPath)
		return
	}
	c.Redirect(http.StatusFound, usersPath)
}

func (s *Server) renderForm(c *gin.Context, status int, me models.User, target *models.User, form forms.UserForm, fields forms.FieldErrors, errMsg string) {
	title := "Novo Usuário"
	if target != nil {
		title = "Editar Usuário"
	}
	s.render(c, status, "user_form", pageData{
		Title:         title,
		Error:         errMsg,
		Fields:        fields,
		User:          target,
		Form:          form,
		Editing:       target != nil,
		Roles:         models.AssignableRoles(me),
		CanChangeRole: models.CanChangeRole(me) && models.CanAssign(me, form.Role),
	})
}

func userID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.Redirect(http.StatusFound, usersPath)
		return 0, false
	}
	return id, true
}

// readAvatar checks the uploaded avatar locally. No file selected yields nil.
func readAvatar(c *gin.Context) (*client.Avatar, error) {
	header, err := c.FormFile("avatar")
	if err != nil || header.Size == 0 {
		return nil, nil
	}

	data, err := readFormFile(header)
	if err != nil {
		return nil, err
	}

	info, err := forms.CheckAvatar(header.Filename, header.Size, bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, forms.ErrAvatarNotImage) || errors.Is(err, forms.ErrAvatarTooLarge) {
			return nil, err
		}
		return nil, forms.ErrAvatarNotImage
	}

	return &client.Avatar{
		Filename:    info.Filename,
		ContentType: info.ContentType,
		Data:        bytes.NewReader(data),
	}, nil
}

func readFormFile(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open avatar: %w", err)
	}
	defer file.Close()
	return io.ReadAll(file)
}
