// Package payload captures replayable copies of inbound request bodies. An
// inbound body can be read once; a proxied call may need it twice.
package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
)

// DefaultMaxBytes bounds a buffered body.
const DefaultMaxBytes int64 = 32 << 20

var (
	ErrTooLarge  = errors.New("payload: request body too large")
	ErrMalformed = errors.New("payload: malformed request body")
)

// Kind says how a snapshot was captured and is replayed.
type Kind int

const (
	KindEmpty Kind = iota
	KindJSON
	KindMultipart
	KindRaw
)

func (k Kind) String() string {
	switch k {
	case KindJSON:
		return "json"
	case KindMultipart:
		return "multipart"
	case KindRaw:
		return "raw"
	default:
		return "empty"
	}
}

// Part is one field or file of a multipart form.
type Part struct {
	Header   textproto.MIMEHeader
	Field    string
	FileName string
	Data     []byte
}

// Snapshot is a captured body that can be replayed any number of times.
type Snapshot struct {
	kind        Kind
	contentType string

	json     json.RawMessage
	boundary string
	parts    []Part
	raw      []byte
}

// Empty is the snapshot of a request without a body.
func Empty() *Snapshot { return &Snapshot{kind: KindEmpty} }

// JSON returns a snapshot of an already-encoded JSON document.
func JSON(doc json.RawMessage) *Snapshot {
	return &Snapshot{kind: KindJSON, contentType: "application/json", json: doc}
}

func (s *Snapshot) Kind() Kind { return s.kind }

// ContentType is the Content-Type to send with the replayed body. Multipart
// snapshots keep their original boundary.
func (s *Snapshot) ContentType() string {
	if s.kind == KindMultipart {
		return mime.FormatMediaType("multipart/form-data", map[string]string{"boundary": s.boundary})
	}
	return s.contentType
}

// Document returns the JSON document of a JSON snapshot.
func (s *Snapshot) Document() json.RawMessage { return s.json }

// Parts returns the captured multipart parts in their original order.
func (s *Snapshot) Parts() []Part { return s.parts }

// Bytes re-encodes the snapshot.
func (s *Snapshot) Bytes() ([]byte, error) {
	switch s.kind {
	case KindJSON:
		return s.json, nil
	case KindMultipart:
		return s.encodeMultipart()
	case KindRaw:
		return s.raw, nil
	default:
		return nil, nil
	}
}

// Reader returns a fresh reader over the re-encoded body.
func (s *Snapshot) Reader() (io.Reader, error) {
	if s.kind == KindEmpty {
		return http.NoBody, nil
	}
	b, err := s.Bytes()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}

func (s *Snapshot) encodeMultipart() ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.SetBoundary(s.boundary); err != nil {
		return nil, fmt.Errorf("payload: boundary: %w", err)
	}

	for _, p := range s.parts {
		w, err := mw.CreatePart(p.Header)
		if err != nil {
			return nil, fmt.Errorf("payload: write part %q: %w", p.Field, err)
		}
		if _, err := w.Write(p.Data); err != nil {
			return nil, fmt.Errorf("payload: write part %q: %w", p.Field, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Cloner snapshots inbound bodies.
type Cloner struct {
	// MaxBytes bounds the body. Zero means DefaultMaxBytes.
	MaxBytes int64
}

// Snapshot consumes r.Body and returns its replayable copy. JSON bodies are
// validated once, multipart bodies are split into parts so files survive
// byte for byte, and anything else is kept as raw bytes.
func (c Cloner) Snapshot(r *http.Request) (*Snapshot, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return Empty(), nil
	}
	defer r.Body.Close()

	limit := c.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("payload: read body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, ErrTooLarge
	}
	if len(body) == 0 {
		return Empty(), nil
	}

	contentType := r.Header.Get("Content-Type")
	mediaType, params, _ := mime.ParseMediaType(contentType)

	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		if !json.Valid(body) {
			return nil, fmt.Errorf("%w: invalid JSON", ErrMalformed)
		}
		return &Snapshot{kind: KindJSON, contentType: contentType, json: body}, nil

	case mediaType == "multipart/form-data":
		return snapshotMultipart(body, params["boundary"])

	default:
		return &Snapshot{kind: KindRaw, contentType: contentType, raw: body}, nil
	}
}

func snapshotMultipart(body []byte, boundary string) (*Snapshot, error) {
	if boundary == "" {
		return nil, fmt.Errorf("%w: multipart boundary missing", ErrMalformed)
	}

	snap := &Snapshot{kind: KindMultipart, boundary: boundary}

	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		p, err := mr.NextRawPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}

		data, err := io.ReadAll(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}

		snap.parts = append(snap.parts, Part{
			Header:   p.Header,
			Field:    p.FormName(),
			FileName: p.FileName(),
			Data:     data,
		})
	}

	return snap, nil
}
