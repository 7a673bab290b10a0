package httpapi

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the single shared validator instance, with field names
// reported from json tags so validation errors match the wire shape.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationError(err error) string {
	var fieldErrs validator.ValidationErrors
	if !asValidationErrors(err, &fieldErrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fe.Field()+" failed "+fe.Tag())
	}
	return strings.Join(msgs, "; ")
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	ve, ok := err.(validator.ValidationErrors)
	if !ok {
		return false
	}
	*target = ve
	return true
}

// requestCodeRequest is POST /api/v1/auth/request-code's body.
type requestCodeRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required,e164"`
}

// verifyRequest is POST /api/v1/auth/verify's body.
type verifyRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required,e164"`
	Code        string `json:"code" validate:"required,len=6,numeric"`
}

// adminLoginRequest is POST /admin/auth/login's body.
type adminLoginRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required,e164"`
	Password    string `json:"password" validate:"required,min=8"`
}

// llmConfigRequest is PUT /api/v1/llm-config's body. Only the
// recognized model-settings keys are typed; unknown keys round-trip via
// ModelSettings on the storage side.
type llmConfigRequest struct {
	Provider           string  `json:"provider" validate:"required,oneof=OPENAI ANTHROPIC GOOGLE OLLAMA CUSTOM"`
	APIKey             string  `json:"api_key"`
	Model              string  `json:"model"`
	Temperature        float64 `json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens          int     `json:"max_tokens"`
	SystemPrompt       string  `json:"system_prompt"`
	BaseURL            string  `json:"base_url"`
	MaxContextMessages int     `json:"max_context_messages"`
}

// adminUserPatchRequest is PATCH /admin/users/{id}'s body.
type adminUserPatchRequest struct {
	IsActive  *bool   `json:"is_active"`
	IsAdmin   *bool   `json:"is_admin"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
}
