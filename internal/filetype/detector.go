// Package filetype gates batch inputs by content, not filename: only real
// PDF documents may enter the pipeline.
package filetype

import (
	"fmt"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// FileTypeInfo contains detected file type information.
type FileTypeInfo struct {
	MIMEType  string
	Extension string
	Supported bool
}

// Detector identifies files by magic bytes.
type Detector struct{}

func New() *Detector {
	return &Detector{}
}

// Detect identifies the actual file type by content.
func (d *Detector) Detect(filePath string) (*FileTypeInfo, error) {
	mtype, err := mimetype.DetectFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to detect file type: %w", err)
	}

	info := &FileTypeInfo{
		MIMEType:  mtype.String(),
		Extension: mtype.Extension(),
		Supported: mtype.Is("application/pdf"),
	}
	log.Debug().Str("mime", info.MIMEType).Str("ext", info.Extension).Str("file", filePath).Msg("detected file type")
	return info, nil
}

// ValidatePDF returns an error unless the file's content is a PDF document.
func (d *Detector) ValidatePDF(filePath string) error {
	info, err := d.Detect(filePath)
	if err != nil {
		return err
	}
	if !info.Supported {
		return fmt.Errorf("unsupported file type %s, expected application/pdf", info.MIMEType)
	}
	return nil
}
