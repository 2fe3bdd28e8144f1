package filetype

import (
	"fmt"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// Class is the coarse category an upload falls into.
type Class string

const (
	ClassPDF         Class = "pdf"
	ClassImage       Class = "image"
	ClassUnsupported Class = "unsupported"
)

// FileTypeInfo contains detected file type information
type FileTypeInfo struct {
	MIMEType    string
	Extension   string
	Class       Class
	Description string
}

// IsPDF reports whether the upload is a PDF document.
func (i *FileTypeInfo) IsPDF() bool { return i.Class == ClassPDF }

// IsImage reports whether the upload is a raster image the PDF builder accepts.
func (i *FileTypeInfo) IsImage() bool { return i.Class == ClassImage }

// Images accepted for PDF assembly.
var supportedImages = map[string]string{
	"image/jpeg": "JPEG image",
	"image/png":  "PNG image",
	"image/tiff": "TIFF image",
	"image/webp": "WebP image",
}

// Detector handles file type detection using magic bytes
type Detector struct{}

// New creates a new file type detector
func New() *Detector {
	return &Detector{}
}

// Detect detects the actual file type of a stored file using magic bytes, not filename
func (d *Detector) Detect(filePath string) (*FileTypeInfo, error) {
	mtype, err := mimetype.DetectFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to detect file type: %w", err)
	}
	log.Debug().Str("mime", mtype.String()).Str("ext", mtype.Extension()).Str("file", filePath).Msg("detected file type")
	return classify(mtype), nil
}

func classify(mtype *mimetype.MIME) *FileTypeInfo {
	info := &FileTypeInfo{
		MIMEType:  mtype.String(),
		Extension: mtype.Extension(),
	}

	switch {
	case mtype.Is("application/pdf"):
		info.MIMEType = "application/pdf"
		info.Class = ClassPDF
		info.Description = "PDF document"
	default:
		for m, desc := range supportedImages {
			if mtype.Is(m) {
				info.MIMEType = m
				info.Class = ClassImage
				info.Description = desc
				return info
			}
		}
		info.Class = ClassUnsupported
		info.Description = fmt.Sprintf("Unsupported file type: %s", mtype.String())
	}
	return info
}
