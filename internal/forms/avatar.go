package forms

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MaxAvatarSize is the largest accepted avatar, 2MB
const MaxAvatarSize = 2097152

var (
	ErrAvatarNotImage = errors.New("Apenas arquivos de imagem são permitidos")
	ErrAvatarTooLarge = errors.New("Imagem muito grande. Tamanho máximo: 2MB")
)

// AvatarInfo describes a selected avatar file
type AvatarInfo struct {
	Filename    string
	ContentType string
	Size        int64
}

// SizeLabel formats the size in megabytes with two decimals
func (a AvatarInfo) SizeLabel() string {
	return fmt.Sprintf("%.2f MB", float64(a.Size)/1024/1024)
}

// CheckAvatar sniffs the content type from head and validates type, then size.
// head only needs to hold the first few kilobytes of the file.
func CheckAvatar(filename string, size int64, head io.Reader) (AvatarInfo, error) {
	mtype, err := mimetype.DetectReader(head)
	if err != nil {
		return AvatarInfo{}, fmt.Errorf("failed to read avatar: %w", err)
	}

	info := AvatarInfo{
		Filename:    filename,
		ContentType: mtype.String(),
		Size:        size,
	}
	if !strings.HasPrefix(info.ContentType, "image/") {
		return info, ErrAvatarNotImage
	}
	if size > MaxAvatarSize {
		return info, ErrAvatarTooLarge
	}
	return info, nil
}
