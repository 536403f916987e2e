package http

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TempUploads guarda los archivos multipart en disco antes de subirlos al
// host de medios. El servicio borra cada archivo tras el intento de subida.
type TempUploads struct {
	dir string
}

func NewTempUploads(dir string) (*TempUploads, error) {
	if strings.TrimSpace(dir) == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &TempUploads{dir: dir}, nil
}

// Save devuelve la ruta local del archivo del campo, o "" si no viene.
func (u *TempUploads) Save(c *gin.Context, field string) (string, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return "", nil
		}
		return "", err
	}
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	dst := filepath.Join(u.dir, uuid.NewString()+ext)
	if err := c.SaveUploadedFile(fh, dst); err != nil {
		return "", err
	}
	return dst, nil
}

func (u *TempUploads) discard(path string) {
	if path != "" {
		_ = os.Remove(path)
	}
}
