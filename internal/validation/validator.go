// internal/validation/validator.go
package validation

import (
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

// CronParser accepts the specs the job scheduler runs with: five or six
// fields, the optional first one being seconds, or a descriptor.
var CronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Rule is a custom tag applied to string fields.
type Rule struct {
	Tag   string
	Valid func(string) bool
}

// Validator wraps validator.Validate. The "cron" tag is always registered;
// packages add their own tags through rules.
type Validator struct {
	v *validator.Validate
}

func New(rules ...Rule) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	rules = append(rules, Rule{Tag: "cron", Valid: func(s string) bool {
		_, err := CronParser.Parse(s)
		return err == nil
	}})
	for _, rule := range rules {
		valid := rule.Valid
		// Registration only fails for empty tags or nil funcs.
		_ = v.RegisterValidation(rule.Tag, func(fl validator.FieldLevel) bool {
			return valid(fl.Field().String())
		})
	}
	return &Validator{v: v}
}

func (v *Validator) Validate(i interface{}) error {
	return v.v.Struct(i)
}

// Var validates a single value against tag.
func (v *Validator) Var(field interface{}, tag string) error {
	return v.v.Var(field, tag)
}
