package pdfextract

import (
	"bytes"
	"io"

	"github.com/ledongthuc/pdf"
)

// Info describes an uploaded PDF after parsing.
type Info struct {
	PageCount int
	Text      string
}

// Inspect parses b as a PDF and returns its page count and extracted plain
// text. A PDF with no extractable text yields an empty Text and nil error.
func Inspect(b []byte) (*Info, error) {
	if len(b) == 0 {
		return &Info{}, nil
	}
	reader, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, err
	}

	plainReader, err := reader.GetPlainText()
	if err != nil {
		return nil, err
	}
	out, err := io.ReadAll(plainReader)
	if err != nil {
		return nil, err
	}

	return &Info{
		PageCount: reader.NumPage(),
		Text:      string(out),
	}, nil
}
