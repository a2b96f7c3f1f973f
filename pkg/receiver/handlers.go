package receiver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/ethpandaops/assetoor/pkg/formdata"
	"github.com/ethpandaops/assetoor/pkg/receiver/ledger"
	"github.com/ethpandaops/assetoor/pkg/upload"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	errMissingDestination = errors.New("missing destination field")
	errMissingFile        = errors.New("missing file part")
	errInvalidDestination = errors.New("invalid destination")
)

// received is one parsed upload request.
type received struct {
	fields   formdata.Fields
	fileName string
	content  []byte
}

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// writeText answers an upload request. Publishers only treat the exact
// success sentinel as acceptance.
func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUpload accepts a single multipart upload and writes the file to
// the destination named by the "to" field.
func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBytes)

	rec, err := readUpload(r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeText(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds %s", units.HumanSize(float64(s.maxBytes))))

			return
		}

		writeText(w, http.StatusBadRequest, err.Error())

		return
	}

	dest, _ := rec.fields.Get(upload.DestinationField)

	name, err := sanitizeDestination(dest)
	if err != nil {
		writeText(w, http.StatusBadRequest, err.Error())

		return
	}

	log := s.log.WithFields(logrus.Fields{
		"destination": name,
		"size":        units.HumanSize(float64(len(rec.content))),
		"remote":      r.RemoteAddr,
	})

	if err := s.store(name, rec.content); err != nil {
		log.WithError(err).Error("Failed to store upload")
		writeText(w, http.StatusInternalServerError, "storing upload failed")

		return
	}

	if s.ledger != nil {
		entry, err := newLedgerEntry(name, r.RemoteAddr, rec)
		if err == nil {
			err = s.ledger.Record(r.Context(), entry)
		}

		if err != nil {
			log.WithError(err).Error("Failed to record upload")
			writeText(w, http.StatusInternalServerError, "recording upload failed")

			return
		}
	}

	log.Info("Upload received")

	writeText(w, http.StatusOK, upload.SuccessSentinel)
}

// handleListUploads returns the most recent ledger entries.
func (s *server) handleListUploads(w http.ResponseWriter, r *http.Request) {
	limit := 0

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{"invalid limit"})

			return
		}

		limit = n
	}

	var (
		uploads []ledger.Upload
		err     error
	)

	if dest := r.URL.Query().Get("destination"); dest != "" {
		name, nameErr := sanitizeDestination(dest)
		if nameErr != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{nameErr.Error()})

			return
		}

		uploads, err = s.ledger.ListByDestination(r.Context(), name)
	} else {
		uploads, err = s.ledger.List(r.Context(), limit)
	}

	if err != nil {
		s.log.WithError(err).Error("Failed to list uploads")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"listing uploads failed"})

		return
	}

	writeJSON(w, http.StatusOK, uploads)
}

// readUpload parses the multipart body. The first part carrying a file
// name is the file; every other part is a plain field.
func readUpload(r *http.Request) (*received, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("reading multipart body: %w", err)
	}

	rec := &received{}
	haveFile := false

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("reading part: %w", err)
		}

		data, err := readPart(part)
		if err != nil {
			return nil, err
		}

		if name := partFileName(part); name != "" && !haveFile {
			rec.fileName = name
			rec.content = data
			haveFile = true

			continue
		}

		rec.fields.Set(part.FormName(), string(data))
	}

	if !haveFile {
		return nil, errMissingFile
	}

	return rec, nil
}

// partFileName returns the raw filename parameter of a part. Unlike
// Part.FileName it keeps directory components.
func partFileName(part *multipart.Part) string {
	_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	if err != nil {
		return ""
	}

	return params["filename"]
}

func readPart(part *multipart.Part) ([]byte, error) {
	defer func() { _ = part.Close() }()

	data, err := io.ReadAll(part)
	if err != nil {
		return nil, fmt.Errorf("reading part %q: %w", part.FormName(), err)
	}

	return data, nil
}

// sanitizeDestination maps a destination path onto a relative file name
// below the receiver root. Dot segments can never climb above the root.
func sanitizeDestination(dest string) (string, error) {
	if dest == "" {
		return "", errMissingDestination
	}

	if strings.ContainsRune(dest, 0) {
		return "", fmt.Errorf("%w: %q", errInvalidDestination, dest)
	}

	name := strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(dest, `\`, "/")), "/")
	if name == "" {
		return "", fmt.Errorf("%w: %q", errInvalidDestination, dest)
	}

	return name, nil
}

// store writes content to name below the receiver root, replacing any
// existing file.
func (s *server) store(name string, content []byte) error {
	if dir := path.Dir(name); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	if err := util.WriteFile(s.fs, name, content, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}

	return nil
}

func newLedgerEntry(name, remote string, rec *received) (*ledger.Upload, error) {
	extra := make(map[string]string, len(rec.fields))

	for _, f := range rec.fields {
		if f.Name == upload.DestinationField {
			continue
		}

		extra[f.Name] = f.Value
	}

	fields, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("encoding fields: %w", err)
	}

	return &ledger.Upload{
		UploadID:    uuid.NewString(),
		Destination: name,
		FileName:    rec.fileName,
		Size:        int64(len(rec.content)),
		RemoteAddr:  remote,
		FieldsJSON:  string(fields),
		ReceivedAt:  time.Now().UTC(),
	}, nil
}
