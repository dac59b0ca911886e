// Package validation はサインアップ・ログインの入力値を検証します。
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidInput は入力検証エラー全般を表します。errors.Is で判定できます。
var ErrInvalidInput = errors.New("invalid input")

// Error は最初に検証に失敗したフィールドと理由を保持します。
type Error struct {
	Field  string // フォーム上のフィールド名 (name, email, password)
	Reason string // 利用者向けのメッセージ
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *Error) Unwrap() error {
	return ErrInvalidInput
}

// SignupInput はサインアップフォームの入力です。
type SignupInput struct {
	Name     string `form:"name" validate:"required,alphanum,max=20"`
	Email    string `form:"email" validate:"required,email,emaildomain"`
	Password string `form:"password" validate:"required,max=20"`
}

// LoginInput はログインフォームの入力です。
type LoginInput struct {
	Email    string `form:"email" validate:"required,email,emaildomain"`
	Password string `form:"password" validate:"required,max=20"`
}

// Signup は検証済みのサインアップ入力です。
type Signup struct {
	Name     string
	Email    string
	Password string
}

// Login は検証済みのログイン入力です。
type Login struct {
	Email    string
	Password string
}

// Validator は入力ルールを保持する検証器です。
type Validator struct {
	validate *validator.Validate
	tlds     map[string]struct{}
	tldList  []string
}

// New は許可するトップレベルドメインを指定して Validator を作成します。
func New(allowedTLDs []string) *Validator {
	v := &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		tlds:     make(map[string]struct{}, len(allowedTLDs)),
	}
	for _, tld := range allowedTLDs {
		tld = strings.ToLower(strings.TrimSpace(tld))
		if tld == "" {
			continue
		}
		if _, dup := v.tlds[tld]; dup {
			continue
		}
		v.tlds[tld] = struct{}{}
		v.tldList = append(v.tldList, tld)
	}

	// エラーのフィールド名はフォームの name 属性に合わせる
	v.validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("form"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	// RegisterValidation は組み込みタグ名との衝突時にのみ失敗する
	_ = v.validate.RegisterValidation("emaildomain", v.checkEmailDomain)

	return v
}

// ValidateSignup はサインアップ入力を検証し、正規化した値を返します。
func (v *Validator) ValidateSignup(in SignupInput) (Signup, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	if err := v.check(in); err != nil {
		return Signup{}, err
	}
	return Signup{Name: in.Name, Email: in.Email, Password: in.Password}, nil
}

// ValidateLogin はログイン入力を検証し、正規化した値を返します。
func (v *Validator) ValidateLogin(in LoginInput) (Login, error) {
	in.Email = strings.TrimSpace(in.Email)
	if err := v.check(in); err != nil {
		return Login{}, err
	}
	return Login{Email: in.Email, Password: in.Password}, nil
}

// AllowedTLDs は許可されているトップレベルドメインを返します。
func (v *Validator) AllowedTLDs() []string {
	out := make([]string, len(v.tldList))
	copy(out, v.tldList)
	return out
}

func (v *Validator) check(input any) error {
	err := v.validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	// 構造体のフィールド順に並ぶので先頭が最初の失敗
	first := fieldErrs[0]
	return &Error{
		Field:  first.Field(),
		Reason: v.reason(first),
	}
}

func (v *Validator) reason(fe validator.FieldError) string {
	label := displayName(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required.", label)
	case "alphanum":
		return fmt.Sprintf("%s must contain only letters and numbers.", label)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters.", label, fe.Param())
	case "email":
		return fmt.Sprintf("%s must be a valid email address.", label)
	case "emaildomain":
		return fmt.Sprintf("%s must use a domain ending in %s.", label, v.tldSummary())
	default:
		return fmt.Sprintf("%s is invalid.", label)
	}
}

func (v *Validator) tldSummary() string {
	parts := make([]string, len(v.tldList))
	for i, tld := range v.tldList {
		parts[i] = "." + tld
	}
	return strings.Join(parts, ", ")
}

// checkEmailDomain はドメイン部が2セグメント以上かつ許可TLDで終わることを確認します。
func (v *Validator) checkEmailDomain(fl validator.FieldLevel) bool {
	email := fl.Field().String()
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return false
	}
	labels := strings.Split(email[at+1:], ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if label == "" {
			return false
		}
	}
	_, ok := v.tlds[strings.ToLower(labels[len(labels)-1])]
	return ok
}

func displayName(field string) string {
	if field == "" {
		return field
	}
	return strings.ToUpper(field[:1]) + field[1:]
}
