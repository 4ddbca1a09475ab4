// Package forms sanitizes and validates console and CLI input before it reaches the
// backend. Invalid input is reported per field and never sent.
package forms

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/spsgroup/spsadmin/internal/cli/client"
	"github.com/spsgroup/spsadmin/internal/models"
)

const maxFieldLength = 100

// User-facing messages
const (
	MsgEmailRequired    = "Email é obrigatório"
	MsgEmailInvalid     = "Email inválido"
	MsgPasswordRequired = "Senha é obrigatória"
	MsgNameRequired     = "Nome é obrigatório"

	MsgInvalidCredentials = "Credenciais inválidas"
	MsgSaveFailed         = "Erro ao salvar usuário"
	MsgSlowUpload         = "Arquivo muito grande ou conexão lenta. Tente uma imagem menor."
	MsgLoadUsersFailed    = "Erro ao carregar usuários. Tente novamente."
	MsgLoadUserFailed     = "Erro ao carregar usuário"
	MsgDeleteFailed       = "Erro ao excluir usuário. Tente novamente."
	MsgUserCreated        = "Usuário criado com sucesso!"
	MsgUserUpdated        = "Usuário atualizado com sucesso!"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}
	return v
}

// FieldErrors maps a form field name to its message
type FieldErrors map[string]string

// Empty reports whether there are no field errors
func (fe FieldErrors) Empty() bool {
	return len(fe) == 0
}

// First returns one message, in form field order, or ""
func (fe FieldErrors) First() string {
	for _, field := range []string{"name", "email", "password"} {
		if msg, ok := fe[field]; ok {
			return msg
		}
	}
	return ""
}

// messages per field and failed validation tag
var messages = map[string]map[string]string{
	"email":    {"notblank": MsgEmailRequired, "email": MsgEmailInvalid},
	"password": {"required": MsgPasswordRequired},
	"name":     {"notblank": MsgNameRequired},
}

func fieldErrors(err error, names map[string]string) FieldErrors {
	out := FieldErrors{}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return out
	}
	for _, fe := range verrs {
		field := names[fe.Field()]
		if _, exists := out[field]; exists {
			continue
		}
		out[field] = messages[field][fe.Tag()]
	}
	return out
}

func sanitizeString(s string) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > maxFieldLength {
		s = string(r[:maxFieldLength])
	}
	return s
}

func sanitizeEmail(s string) string {
	return strings.ToLower(sanitizeString(s))
}

// LoginForm holds sign-in credentials
type LoginForm struct {
	Email    string `validate:"notblank,email"`
	Password string `validate:"required"`
}

var loginFieldNames = map[string]string{"Email": "email", "Password": "password"}

// NewLoginForm sanitizes the email. The password is kept as typed.
func NewLoginForm(email, password string) LoginForm {
	return LoginForm{Email: sanitizeEmail(email), Password: password}
}

// Validate returns the per-field errors of the form
func (f LoginForm) Validate() FieldErrors {
	return fieldErrors(validate.Struct(f), loginFieldNames)
}

// UserForm holds the fields of the create/edit user form
type UserForm struct {
	Name     string `validate:"notblank"`
	Email    string `validate:"notblank,email"`
	Role     models.Role
	Password string
}

var userFieldNames = map[string]string{"Name": "name", "Email": "email"}

// NewUserForm sanitizes raw form input. Unknown roles become "user".
func NewUserForm(name, email, role, password string) UserForm {
	return UserForm{
		Name:     sanitizeString(name),
		Email:    sanitizeEmail(email),
		Role:     models.ParseRole(role),
		Password: password,
	}
}

// UserFormFrom fills the edit form from an existing record. The password is never loaded.
func UserFormFrom(u models.User) UserForm {
	return UserForm{Name: u.Name, Email: u.Email, Role: u.Role}
}

// Validate returns the per-field errors. The password is required only when creating;
// like on sign-in, any non-empty password is accepted as typed.
func (f UserForm) Validate(editing bool) FieldErrors {
	errs := fieldErrors(validate.Struct(f), userFieldNames)
	if !editing {
		if err := validate.Var(f.Password, "required"); err != nil {
			errs["password"] = MsgPasswordRequired
		}
	}
	return errs
}

// Input converts the form into the API payload. On edit an empty password is omitted.
func (f UserForm) Input() models.UserInput {
	return models.UserInput{
		Name:     f.Name,
		Email:    f.Email,
		Role:     f.Role,
		Password: f.Password,
	}
}

// SaveErrorMessage maps a failed create/update to the message shown above the form
func SaveErrorMessage(err error) string {
	if msg := client.Message(err); msg != "" {
		return msg
	}
	if client.IsTimeout(err) || client.IsPayloadTooLarge(err) {
		return MsgSlowUpload
	}
	return MsgSaveFailed
}

// DeleteConfirmation is the question asked before deleting name. Deleting one's own
// account gets the stronger warning.
func DeleteConfirmation(name string, own bool) string {
	if own {
		return fmt.Sprintf("ATENÇÃO: Você está prestes a excluir sua própria conta %q!\n\n"+
			"Isso fará com que você seja deslogado imediatamente e não poderá mais acessar o sistema.\n\n"+
			"Tem certeza que deseja continuar?", name)
	}
	return fmt.Sprintf("Tem certeza que deseja excluir o usuário %q?", name)
}
