package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/challengectl/challengectl/pkg/auth"
	"github.com/challengectl/challengectl/pkg/blob"
	"github.com/challengectl/challengectl/pkg/types"
)

// handleFileDownload streams a payload file by digest. The body is the raw
// blob; agents verify the digest on their side before caching. The blob
// store and the metadata rows are both keyed by the full "sha256:" form,
// so the reference is validated but passed through intact.
func (s *Server) handleFileDownload(w http.ResponseWriter, r *http.Request) {
	digest := chi.URLParam(r, "digest")
	if _, err := blob.ParseDigest(digest); err != nil {
		writeError(w, fmt.Errorf("%s: %w", err, types.ErrNotFound))
		return
	}

	rc, size, err := s.blobs.Open(digest)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()

	contentType := "application/octet-stream"
	if meta, err := s.store.GetFileMeta(digest); err == nil {
		if meta.ContentType != "" {
			contentType = meta.ContentType
		}
		if meta.Name != "" {
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", meta.Name))
		}
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		// Headers are gone; all we can do is note the broken transfer.
		s.logger.Warn().Err(err).Str("digest", digest).Msg("file download aborted")
	}
}

// handleUploadFile accepts a multipart upload, stores the content by
// digest, and records the metadata row. Re-uploading identical content is
// idempotent because the digest is the identity.
func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFrom(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, fmt.Errorf("multipart field 'file' required: %w", types.ErrConflict))
		return
	}
	defer file.Close()

	digest, size, err := s.blobs.Put(file)
	if err != nil {
		writeError(w, err)
		return
	}

	meta := &types.FileMeta{
		Digest:      digest,
		Name:        header.Filename,
		Size:        size,
		ContentType: header.Header.Get("Content-Type"),
		UploadedAt:  time.Now(),
		UploadedBy:  p.Username,
	}
	if err := s.store.SaveFileMeta(meta); err != nil {
		writeError(w, err)
		return
	}

	s.logger.Info().Str("digest", digest).Str("name", meta.Name).Int64("size", size).Msg("file uploaded")
	writeJSON(w, http.StatusCreated, meta)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.store.ListFiles()
	if err != nil {
		writeError(w, err)
		return
	}
	if files == nil {
		files = []*types.FileMeta{}
	}
	writeJSON(w, http.StatusOK, files)
}
