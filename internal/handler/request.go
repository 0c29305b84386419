package handler

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"vidtube-account-server/internal/domain"
	"vidtube-account-server/pkg/apperror"

	"github.com/go-playground/validator/v10"
)

// multipartOverhead leaves room for the text fields next to the files.
const multipartOverhead = 1 << 20

// decodeJSON reads a JSON body into v. An empty body leaves v untouched when
// allowEmpty is set.
func decodeJSON(r *http.Request, v interface{}, allowEmpty bool) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return apperror.Validation("invalid request body")
	}
	return nil
}

// parseMultipart limits the body to maxFiles uploads of maxFileSize each.
func parseMultipart(w http.ResponseWriter, r *http.Request, maxFileSize int64, maxFiles int) error {
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxFiles)*maxFileSize+multipartOverhead)
	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperror.Validation("request body is too large")
		}
		return apperror.Validation("invalid multipart form")
	}
	return nil
}

// formFile returns the uploaded part named field, or nil if it was not sent.
// The caller closes the returned file.
func formFile(r *http.Request, field string) (*domain.FileInput, multipart.File, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil, nil
		}
		return nil, nil, apperror.Validation("invalid " + field + " file")
	}

	return &domain.FileInput{
		Filename: header.Filename,
		Size:     header.Size,
		Content:  file,
	}, file, nil
}

func closeFiles(files ...multipart.File) {
	for _, f := range files {
		if f != nil {
			f.Close()
		}
	}
}

// validationError turns validator failures into one client-facing message.
func validationError(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return apperror.Validation("invalid request")
	}

	fe := errs[0]
	switch fe.Tag() {
	case "required":
		return apperror.Validation("all fields are required")
	case "email":
		return apperror.Validation("invalid email address")
	case "max":
		return apperror.Validation(fe.Field() + " is too long")
	default:
		return apperror.Validation("invalid " + fe.Field())
	}
}
