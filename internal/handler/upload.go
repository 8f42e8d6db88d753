package handler

import (
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/sakif/recipebox/internal/apperror"
	"github.com/sakif/recipebox/internal/imagestore"
)

// multipartOverhead allows for boundaries and part headers on top of the
// file itself.
const multipartOverhead = 1 << 20

// formFile opens the uploaded file in field. The whole request body is
// capped at maxBytes plus multipartOverhead; anything that is not a usable
// upload becomes a validation error on field.
func formFile(w http.ResponseWriter, r *http.Request, field string, maxBytes int64) (multipart.File, error) {
	if maxBytes <= 0 {
		maxBytes = imagestore.DefaultMaxBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, apperror.ValidationFailed(field, imagestore.ErrTooLarge.Error())
		}
		return nil, apperror.ValidationFailed(field, "Expected a multipart/form-data upload")
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, apperror.ValidationFailed(field, "No file selected")
	}
	if header.Size == 0 {
		file.Close()
		return nil, apperror.ValidationFailed(field, imagestore.ErrEmpty.Error())
	}
	return file, nil
}
