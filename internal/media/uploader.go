package media

import (
	"context"
	"errors"
)

// ErrUploadFailed envuelve cualquier fallo del host de medios.
var ErrUploadFailed = errors.New("media upload failed")

// Asset es el resultado de una subida: URL pública y clave para borrarlo.
type Asset struct {
	URL string
	Key string
}

// Uploader sube un archivo local al host de medios y devuelve una URL durable.
// No borra el archivo local; eso es responsabilidad del llamador.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (Asset, error)
	Delete(ctx context.Context, key string) error
}

type disabledUploader struct {
	reason string
}

// NewDisabledUploader devuelve un Uploader que siempre falla.
func NewDisabledUploader(reason string) Uploader {
	return &disabledUploader{reason: reason}
}

func (u *disabledUploader) Upload(_ context.Context, _ string) (Asset, error) {
	if u.reason == "" {
		return Asset{}, ErrUploadFailed
	}
	return Asset{}, errors.Join(ErrUploadFailed, errors.New(u.reason))
}

func (u *disabledUploader) Delete(_ context.Context, _ string) error {
	return nil
}
