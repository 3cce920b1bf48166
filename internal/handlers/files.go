package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/DAMMAK/vault-x/internal/service"
)

// maxChunkBody caps a single chunk upload body. The chunker never plans a
// chunk above the configured chunk size, so anything larger is malformed.
const maxChunkBody = 64 << 20

func (a *API) handleCreateFile(w http.ResponseWriter, r *http.Request, ownerID string) {
	ctx, span := tracer.Start(r.Context(), "create_file",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	var input service.CreateFileInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if input.Name == "" || input.Size <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "name and a positive size are required"})
		return
	}

	span.SetAttributes(
		attribute.String("file_name", input.Name),
		attribute.Int64("file_size", input.Size),
	)

	file, err := a.files.Create(ctx, input, ownerID)
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}

	log.Printf("File created: %s (ID: %s, %d chunks)", file.Name, file.ID, file.ChunkCount)
	writeJSON(w, http.StatusCreated, file)
}

func (a *API) handleListFiles(w http.ResponseWriter, r *http.Request, ownerID string) {
	ctx, span := tracer.Start(r.Context(), "list_files")
	defer span.End()

	files, err := a.files.List(ctx, ownerID)
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (a *API) handleGetFile(w http.ResponseWriter, r *http.Request, ownerID string) {
	ctx, span := tracer.Start(r.Context(), "get_file")
	defer span.End()

	fileID := mux.Vars(r)["id"]
	span.SetAttributes(attribute.String("file_id", fileID))

	file, err := a.files.Get(ctx, fileID, ownerID)
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func (a *API) handleUpdateFile(w http.ResponseWriter, r *http.Request, ownerID string) {
	ctx, span := tracer.Start(r.Context(), "update_file")
	defer span.End()

	fileID := mux.Vars(r)["id"]
	span.SetAttributes(attribute.String("file_id", fileID))

	var input service.UpdateFileInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	file, err := a.files.Update(ctx, fileID, ownerID, input)
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func (a *API) handleDeleteFile(w http.ResponseWriter, r *http.Request, ownerID string) {
	ctx, span := tracer.Start(r.Context(), "delete_file")
	defer span.End()

	fileID := mux.Vars(r)["id"]
	span.SetAttributes(attribute.String("file_id", fileID))

	if err := a.files.Delete(ctx, fileID, ownerID); err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}

	log.Printf("File deleted: %s", fileID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "file deleted"})
}

// handleUploadChunk handles PUT /files/{id}/chunks/{index} with the raw
// chunk bytes as the request body.
func (a *API) handleUploadChunk(w http.ResponseWriter, r *http.Request, ownerID string) {
	ctx, span := tracer.Start(r.Context(), "upload_chunk",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	vars := mux.Vars(r)
	fileID := vars["id"]
	index, err := strconv.Atoi(vars["index"])
	if err != nil || index < 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid chunk index"})
		return
	}

	span.SetAttributes(
		attribute.String("file_id", fileID),
		attribute.Int("chunk_index", index),
	)

	data, err := io.ReadAll(io.LimitReader(r.Body, maxChunkBody+1))
	if err != nil {
		span.RecordError(err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read chunk body"})
		return
	}
	if len(data) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "empty chunk body"})
		return
	}
	if len(data) > maxChunkBody {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "chunk body too large"})
		return
	}

	span.SetAttributes(attribute.Int("chunk_size", len(data)))

	if err := a.files.UploadChunk(ctx, fileID, index, data, ownerID); err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"file_id": fileID,
		"index":   index,
		"message": "chunk uploaded",
	})
}

// handleSignedURL handles POST /files/{id}/signed-url. The optional body
// field expires_in overrides the default expiry, in seconds.
func (a *API) handleSignedURL(w http.ResponseWriter, r *http.Request, ownerID string) {
	ctx, span := tracer.Start(r.Context(), "generate_signed_url")
	defer span.End()

	fileID := mux.Vars(r)["id"]
	span.SetAttributes(attribute.String("file_id", fileID))

	var input struct {
		ExpiresIn int64 `json:"expires_in"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
	}

	// The token only grants access the owner already has, so verify the
	// file exists under this owner before signing.
	if _, err := a.files.Get(ctx, fileID, ownerID); err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}

	token, err := a.signer.Generate(fileID, ownerID, time.Duration(input.ExpiresIn)*time.Second)
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"url":   fmt.Sprintf("/download?token=%s", token),
		"token": token,
	})
}

// handleDownload handles GET /download?token=... The token is the sole
// credential; no owner header is required.
func (a *API) handleDownload(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "download_file",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	token := r.URL.Query().Get("token")
	if token == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing 'token' query parameter"})
		return
	}

	fileID, ownerID, err := a.signer.Verify(token)
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}

	span.SetAttributes(attribute.String("file_id", fileID))

	file, data, err := a.files.Download(ctx, fileID, ownerID)
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}

	contentType := file.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.OriginalName))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Printf("Warning: failed to stream file %s: %v", fileID, err)
	}
}
