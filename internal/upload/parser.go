package upload

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
)

// ErrMalformedRequest marks request bodies the parser cannot read.
var ErrMalformedRequest = errors.New("malformed multipart request")

// FilePart is one file carried by an upload request.
type FilePart struct {
	Field    string
	Filename string
	Body     io.Reader
}

// Parser yields the file parts of a request in order. NextFile returns io.EOF after
// the last part. The body of a part must be fully consumed before the next call.
type Parser interface {
	NextFile() (*FilePart, error)
}

type multipartParser struct {
	r *multipart.Reader
}

// NewMultipartParser builds a Parser for a multipart/form-data body described by header.
func NewMultipartParser(header http.Header, body io.Reader) (Parser, error) {
	mediaType, params, err := mime.ParseMediaType(header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, fmt.Errorf("%w: unexpected content type %s", ErrMalformedRequest, mediaType)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, fmt.Errorf("%w: missing boundary", ErrMalformedRequest)
	}
	return &multipartParser{r: multipart.NewReader(body, boundary)}, nil
}

func (p *multipartParser) NextFile() (*FilePart, error) {
	for {
		part, err := p.r.NextPart()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
		}
		if part.FileName() == "" {
			// plain form field
			if _, err := io.Copy(io.Discard, part); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
			}
			continue
		}
		return &FilePart{Field: part.FormName(), Filename: part.FileName(), Body: part}, nil
	}
}
