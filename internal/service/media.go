package service

import (
	"context"
	"errors"

	"vidtube-account-server/internal/domain"
	"vidtube-account-server/internal/logging"
	"vidtube-account-server/internal/storage"
	"vidtube-account-server/pkg/apperror"
)

// MediaStore keeps uploaded images and returns their public URLs.
type MediaStore interface {
	Upload(ctx context.Context, file *domain.FileInput, folder string) (string, error)
	Delete(ctx context.Context, url string) error
}

// uploadImage maps storage failures onto API errors. Problems with the file
// itself are the client's fault; anything else is internal.
func uploadImage(ctx context.Context, media MediaStore, file *domain.FileInput, folder, field string) (string, error) {
	url, err := media.Upload(ctx, file, folder)
	if err == nil {
		return url, nil
	}

	switch {
	case errors.Is(err, storage.ErrEmptyFile),
		errors.Is(err, storage.ErrFileTooLarge),
		errors.Is(err, storage.ErrUnsupportedType):
		return "", apperror.Wrap(apperror.KindValidation, field+": "+err.Error(), err)
	default:
		return "", apperror.Internal("failed to upload "+field, err)
	}
}

func discardImage(ctx context.Context, media MediaStore, logger logging.Logger, url string) {
	if url == "" {
		return
	}
	if err := media.Delete(ctx, url); err != nil {
		logger.Warn(ctx, "failed to delete image", "url", url, "error", err)
	}
}
