package dto

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerOnce sync.Once

// now is replaced in tests
var now = time.Now

// RegisterValidations installs the custom rules on gin's validator engine
func RegisterValidations() error {
	var err error
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		err = registerOn(v)
	})
	return err
}

func registerOn(v *validator.Validate) error {
	if err := v.RegisterValidation("card_expiry", validateCardExpiry); err != nil {
		return err
	}
	return v.RegisterValidation("cpf", validateCPF)
}

func validateCardExpiry(fl validator.FieldLevel) bool {
	month, year, ok := ParseCardExpiry(fl.Field().String())
	if !ok {
		return false
	}
	current := now()
	if year != current.Year() {
		return year > current.Year()
	}
	return month >= int(current.Month())
}

// ParseCardExpiry accepts MM/YY and MM/YYYY
func ParseCardExpiry(s string) (month, year int, ok bool) {
	mm, yy, found := strings.Cut(strings.TrimSpace(s), "/")
	if !found || len(mm) != 2 || (len(yy) != 2 && len(yy) != 4) {
		return 0, 0, false
	}
	month, err := strconv.Atoi(mm)
	if err != nil || month < 1 || month > 12 {
		return 0, 0, false
	}
	year, err = strconv.Atoi(yy)
	if err != nil {
		return 0, 0, false
	}
	if len(yy) == 2 {
		year += 2000
	}
	return month, year, true
}

func validateCPF(fl validator.FieldLevel) bool {
	return ValidCPF(fl.Field().String())
}

// ValidCPF checks the length and both check digits of a CPF. Punctuation
// is ignored.
func ValidCPF(s string) bool {
	digits := digitsOnly(s)
	if len(digits) != 11 {
		return false
	}
	if strings.Count(digits, digits[:1]) == 11 {
		return false
	}
	for _, n := range []int{9, 10} {
		sum := 0
		for i := 0; i < n; i++ {
			sum += int(digits[i]-'0') * (n + 1 - i)
		}
		check := sum * 10 % 11
		if check == 10 {
			check = 0
		}
		if check != int(digits[n]-'0') {
			return false
		}
	}
	return true
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
