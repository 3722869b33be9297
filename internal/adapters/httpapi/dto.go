package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/oapi-codegen/runtime"

	"github.com/Overland-East-Bay/expense-sources-api/internal/domain"
)

const maxBodyBytes = 64 << 10

type periodRequest struct {
	Kind  string `json:"kind"  validate:"required,oneof=Month Year"`
	Every *int   `json:"every" validate:"required,gte=1,lte=2147483647"`
}

type recurringMoneyRequest struct {
	Amount *int64         `json:"amount" validate:"required"`
	Period *periodRequest `json:"period" validate:"required"`
}

// expenseSourceRequest is the body of POST and PUT /expense/sources.
type expenseSourceRequest struct {
	Name    string                 `json:"name"    validate:"notblank"`
	Expense *recurringMoneyRequest `json:"expense" validate:"required"`
}

func (b expenseSourceRequest) toDomain() (string, domain.RecurringMoneyValue) {
	return domain.NormalizeName(b.Name), domain.RecurringMoneyValue{
		Amount: *b.Expense.Amount,
		Period: domain.Period{
			Kind:  domain.PeriodKind(b.Expense.Period.Kind),
			Every: *b.Expense.Period.Every,
		},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// Not empty and not only whitespace.
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// decodeExpenseSource reads and validates the request body. A non-nil details
// map describes a 422.
func decodeExpenseSource(r *http.Request) (expenseSourceRequest, map[string]any) {
	var body expenseSourceRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		return body, map[string]any{"body": bodyErrorDetail(err)}
	}
	if dec.More() {
		return body, map[string]any{"body": "must contain a single JSON object"}
	}
	if err := validate.Struct(body); err != nil {
		return body, validationDetails(err)
	}
	return body, nil
}

func bodyErrorDetail(err error) string {
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, io.EOF):
		return "missing request body"
	case errors.As(err, &typeErr):
		return fmt.Sprintf("%s must be a %s", typeErr.Field, typeErr.Type.Kind())
	default:
		return "malformed JSON"
	}
}

func validationDetails(err error) map[string]any {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]any{"body": err.Error()}
	}
	details := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		// Namespace is "expenseSourceRequest.expense.period.kind"; drop the struct name.
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		details[field] = validationMessage(fe)
	}
	return details
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "notblank":
		return "must not be blank"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	default:
		return "is invalid"
	}
}

// bindID parses the {id} path parameter. A value that is not a 64-bit integer
// matches no route. Zero and negative ids bind and simply never exist.
func bindID(raw string) (domain.ExpenseSourceID, bool) {
	var id int64
	err := runtime.BindStyledParameterWithOptions("simple", "id", raw, &id, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
	if err != nil {
		return 0, false
	}
	return domain.ExpenseSourceID(id), true
}
