// Package formdata builds multipart/form-data request bodies carrying a set
// of form fields followed by a single file part.
package formdata

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/google/uuid"
)

// BoundaryPrefix is the fixed literal every generated boundary starts with.
const BoundaryPrefix = "-----np"

// DefaultFileField is the form field name used for the file part when the
// caller does not provide one.
const DefaultFileField = "file"

// Field is a single form field.
type Field struct {
	Name  string
	Value string
}

// Fields is an ordered list of form fields. Parts are emitted in slice order.
type Fields []Field

// Get returns the value of the named field.
func (f Fields) Get(name string) (string, bool) {
	for _, field := range f {
		if field.Name == name {
			return field.Value, true
		}
	}

	return "", false
}

// Set replaces the value of the named field in place, or appends it when
// the field is not present yet.
func (f *Fields) Set(name, value string) {
	for i := range *f {
		if (*f)[i].Name == name {
			(*f)[i].Value = value

			return
		}
	}

	*f = append(*f, Field{Name: name, Value: value})
}

// Clone returns a copy that can be modified without affecting f.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}

	out := make(Fields, len(f))
	copy(out, f)

	return out
}

// Body is a fully materialized multipart body.
type Body struct {
	Boundary      string
	ContentType   string
	ContentLength int64

	data []byte
}

// Bytes returns the encoded body.
func (b *Body) Bytes() []byte {
	return b.data
}

// Reader returns a fresh reader over the encoded body.
func (b *Body) Reader() io.Reader {
	return bytes.NewReader(b.data)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Encode serializes fields followed by one file part named fileField with
// the given file name and raw content. Content is written untouched, so it
// may be arbitrary binary data.
func Encode(fields Fields, fileField, fileName string, content []byte) *Body {
	if fileField == "" {
		fileField = DefaultFileField
	}

	var buf bytes.Buffer

	w := multipart.NewWriter(&buf)

	boundary := newBoundary()

	// Writes into a bytes.Buffer cannot fail and the boundary is always
	// within the allowed alphabet, so errors below are ignored.
	_ = w.SetBoundary(boundary)

	for _, field := range fields {
		part, _ := w.CreatePart(disposition(
			`form-data; name="` + quoteEscaper.Replace(field.Name) + `"`,
		))
		_, _ = io.WriteString(part, field.Value)
	}

	part, _ := w.CreatePart(disposition(
		`form-data; name="` + quoteEscaper.Replace(fileField) +
			`"; filename="` + quoteEscaper.Replace(fileName) + `"`,
	))
	_, _ = part.Write(content)

	_ = w.Close()

	return &Body{
		Boundary:      boundary,
		ContentType:   w.FormDataContentType(),
		ContentLength: int64(buf.Len()),
		data:          buf.Bytes(),
	}
}

func disposition(value string) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader, 1)
	h.Set("Content-Disposition", value)

	return h
}

// newBoundary returns a random boundary token.
func newBoundary() string {
	id := uuid.New()

	return BoundaryPrefix + strings.ReplaceAll(id.String(), "-", "")
}
