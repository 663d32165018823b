package config

import (
	"fmt"
	"strings"

	"github.com/dep2p/go-kvdht/pkg/types"
)

// ValidationError 配置校验错误
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("配置错误 [%s]: %s", e.Field, e.Message)
}

// ValidationErrors 多个配置校验错误
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for i := range e {
		msgs = append(msgs, e[i].Error())
	}
	return types.ErrInvalidConfig.Error() + ": " + strings.Join(msgs, "; ")
}

// Unwrap 使 errors.Is(err, types.ErrInvalidConfig) 成立
func (e ValidationErrors) Unwrap() error {
	return types.ErrInvalidConfig
}

// HasErrors 是否有错误
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator 配置校验器
type Validator struct {
	errors ValidationErrors
}

// NewValidator 创建校验器
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// addError 添加错误
func (v *Validator) addError(field, format string, args ...any) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	})
}

// positive 要求整数字段大于零
func (v *Validator) positive(field string, n int) {
	if n <= 0 {
		v.addError(field, "必须大于 0，当前 %d", n)
	}
}

// nonNegative 要求时长字段不为负
func (v *Validator) nonNegative(field string, d Duration) {
	if d < 0 {
		v.addError(field, "不能为负，当前 %s", d)
	}
}

// positiveDuration 要求时长字段大于零
func (v *Validator) positiveDuration(field string, d Duration) {
	if d <= 0 {
		v.addError(field, "必须大于 0，当前 %s", d)
	}
}

// Errors 返回所有错误
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}
