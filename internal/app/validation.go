package app

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"studynotes/api/internal/media"
	"studynotes/api/internal/store"
)

var (
	validate   *validator.Validate
	translator ut.Translator

	// custom validation tags
	notBlankTag  = "notblank"
	noteTypeTag  = "notetype"
	uploadURLTag = "upload_url"
)

func init() {
	validate = validator.New()

	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation(notBlankTag, notBlankValidation)
	_ = validate.RegisterValidation(noteTypeTag, noteTypeValidation)
	_ = validate.RegisterValidation(uploadURLTag, uploadURLValidation)
	validate.RegisterStructValidation(updateNoteStructValidation, UpdateNoteInput{})

	registerCustomValidationsTranslations(notBlankTag, noteTypeTag, uploadURLTag)
}

// A noop registration func is enough: the message comes from translateCustomValidationErrs.
func registerCustomValidationsTranslations(tags ...string) {
	registerFn := func(ut.Translator) error { return nil }
	for _, tag := range tags {
		_ = validate.RegisterTranslation(tag, translator, registerFn, translateCustomValidationErrs)
	}
}

func translateCustomValidationErrs(_ ut.Translator, fe validator.FieldError) string {
	switch fe.Tag() {
	case notBlankTag:
		return fe.Field() + " cannot be blank"
	case noteTypeTag:
		return fe.Field() + " must be one of " + strings.Join(store.NoteTypes, ", ")
	case uploadURLTag:
		return fe.Field() + " must reference an uploaded file under " + media.URLPrefix
	default:
		return ""
	}
}

func notBlankValidation(fl validator.FieldLevel) bool {
	if str, ok := fl.Field().Interface().(string); ok {
		return strings.TrimSpace(str) != ""
	}
	return false
}

func noteTypeValidation(fl validator.FieldLevel) bool {
	str, ok := fl.Field().Interface().(string)
	return ok && validNoteType(str)
}

func uploadURLValidation(fl validator.FieldLevel) bool {
	str, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	_, ok = media.NameFromURL(str)
	return ok
}

// updateNoteStructValidation checks the provided fields of a partial update;
// absent fields are left alone.
func updateNoteStructValidation(sl validator.StructLevel) {
	in, ok := sl.Current().Interface().(UpdateNoteInput)
	if !ok {
		return
	}
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		sl.ReportError(*in.Title, "title", "Title", notBlankTag, "")
	}
	if in.Date != nil && strings.TrimSpace(*in.Date) == "" {
		sl.ReportError(*in.Date, "date", "Date", notBlankTag, "")
	}
	if in.Type != nil && !validNoteType(*in.Type) {
		sl.ReportError(*in.Type, "type", "Type", noteTypeTag, "")
	}
	if in.AudioURL != nil && *in.AudioURL != "" {
		if _, ok := media.NameFromURL(*in.AudioURL); !ok {
			sl.ReportError(*in.AudioURL, "audioUrl", "AudioURL", uploadURLTag, "")
		}
	}
	if in.ImageURLs != nil {
		for _, url := range *in.ImageURLs {
			if _, ok := media.NameFromURL(url); !ok {
				sl.ReportError(url, "imageUrls", "ImageURLs", uploadURLTag, "")
				break
			}
		}
	}
}

func validNoteType(value string) bool {
	for _, noteType := range store.NoteTypes {
		if value == noteType {
			return true
		}
	}
	return false
}

// validateInput runs struct validation and converts failures into a 422
// DomainError whose details map JSON field names to messages.
func validateInput(input any) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := fe.Field()
		if _, seen := details[field]; seen {
			continue
		}
		details[field] = fe.Translate(translator)
	}
	return validationError("Validation failed", details)
}
