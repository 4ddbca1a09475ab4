package console

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/spsgroup/spsadmin/internal/forms"
	"github.com/spsgroup/spsadmin/internal/models"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var assetFS embed.FS

func staticFS() http.FileSystem {
	sub, err := fs.Sub(assetFS, "static")
	if err != nil {
		panic(err)
	}
	return http.FS(sub)
}

// pages maps a page name to its template set (layout plus page)
type pages map[string]*template.Template

var pageNames = []string{"signin", "users", "user_view", "user_form"}

var templateFuncs = template.FuncMap{
	"roleLabel": func(r models.Role) string { return r.Label() },
	"roleBadge": func(r models.Role) string {
		return "badge-" + strings.ReplaceAll(string(r), "_", "-")
	},
	"initials": func(u models.User) string { return u.Initials() },
	"canCreate": func(me *models.User) bool {
		return me != nil && models.CanCreateUsers(*me)
	},
	"canEdit": func(me *models.User, u models.User) bool {
		return me != nil && models.CanEdit(*me, u)
	},
	"canDelete": func(me *models.User, u models.User) bool {
		return me != nil && models.CanDelete(*me, u)
	},
	"isSelf": func(me *models.User, u models.User) bool {
		return me != nil && me.ID == u.ID
	},
	"confirmDelete": func(me *models.User, u models.User) string {
		return forms.DeleteConfirmation(u.Name, me != nil && me.ID == u.ID)
	},
}

func loadPages() (pages, error) {
	out := pages{}
	for _, name := range pageNames {
		t, err := template.New(name).Funcs(templateFuncs).ParseFS(templateFS,
			"templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", name, err)
		}
		out[name] = t
	}
	return out, nil
}

// pageData is what every template receives
type pageData struct {
	Title string
	Theme string
	Me    *models.User

	Flash  string
	Error  string
	Fields forms.FieldErrors

	// sign-in
	Email string

	// list and view
	Users []models.User
	User  *models.User

	// create and edit
	Form          forms.UserForm
	Editing       bool
	Roles         []models.Role
	CanChangeRole bool
}

// render executes page into a buffer first so a template error never leaves a
// half-written response
func (s *Server) render(c *gin.Context, status int, page string, data pageData) {
	ctx := c.Request.Context()
	data.Theme = s.themes.Theme(ctx)
	if data.Me == nil {
		if me, ok := s.provider.User(); ok {
			data.Me = &me
		}
	}

	var buf bytes.Buffer
	if err := s.pages[page].ExecuteTemplate(&buf, "layout", data); err != nil {
		s.logger.Error().Err(err).Str("page", page).Msg("failed to render page")
		c.String(http.StatusInternalServerError, "Erro interno")
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(status, "text/html; charset=utf-8", buf.Bytes())
}
