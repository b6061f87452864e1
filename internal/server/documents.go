package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"compliancehub/internal/blob"
	"compliancehub/internal/domain"
	"compliancehub/internal/engine"
)

const defaultMaxUploadBytes = 50 << 20

func registerDocuments(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-task-documents",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/documents",
		Summary:     "List documents of a task",
		Tags:        []string{"documents"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*out[[]domain.Document], error) {
		docs, err := h.engine.ListDocuments(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(nonNil(docs)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-document",
		Method:      http.MethodGet,
		Path:        "/documents/{id}",
		Summary:     "Get document metadata",
		Tags:        []string{"documents"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*out[domain.Document], error) {
		doc, err := h.engine.GetDocument(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(doc), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-document",
		Method:      http.MethodDelete,
		Path:        "/documents/{id}",
		Summary:     "Delete document",
		Description: "The stored file is kept when the owning task has been archived into history.",
		Tags:        []string{"documents"},
		Errors:      writeErrors,
	}, func(ctx context.Context, input *idPath) (*out[engine.DocumentDeletion], error) {
		p, authErr := h.requireWrite(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := h.engine.DeleteDocument(ctx, input.ID, p.ActorID())
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(res), nil
	})
}

// registerDocumentTransfers mounts the streaming endpoints directly on chi;
// multipart bodies and file downloads bypass huma's JSON handling.
func registerDocumentTransfers(r chi.Router, basePath string, h handlers) {
	r.Post(path.Join(basePath, "documents"), h.uploadDocument)
	r.Get(path.Join(basePath, "documents/{id}/download"), func(w http.ResponseWriter, req *http.Request) {
		id, ok := pathID(w, req)
		if !ok {
			return
		}
		doc, obj, err := h.engine.DownloadDocument(req.Context(), id)
		if err != nil {
			respondStatusError(w, h.handleError(err))
			return
		}
		h.streamFile(w, doc.Filename, obj)
	})
	r.Get(path.Join(basePath, "history-docs/{id}/download"), func(w http.ResponseWriter, req *http.Request) {
		id, ok := pathID(w, req)
		if !ok {
			return
		}
		doc, obj, err := h.engine.DownloadHistoryDoc(req.Context(), id)
		if err != nil {
			respondStatusError(w, h.handleError(err))
			return
		}
		h.streamFile(w, doc.Filename, obj)
	})
}

func pathID(w http.ResponseWriter, req *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "id must be a positive integer", nil))
		return 0, false
	}
	return id, true
}

// uploadDocument reads a multipart form whose text fields (task_id, type_id)
// precede the file part, and streams the file into blob storage.
func (h handlers) uploadDocument(w http.ResponseWriter, req *http.Request) {
	p, authErr := h.requireWrite(req.Context())
	if authErr != nil {
		respondStatusError(w, authErr)
		return
	}
	req.Body = http.MaxBytesReader(w, req.Body, h.maxUpload)
	mr, err := req.MultipartReader()
	if err != nil {
		respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "multipart/form-data body required", nil))
		return
	}
	opts := engine.DocumentUploadOptions{ActorID: p.ActorID()}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				respondStatusError(w, h.handleError(err))
				return
			}
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("read multipart: %v", err), nil))
			return
		}
		switch part.FormName() {
		case "task_id", "type_id":
			id, err := formID(part)
			if err != nil {
				respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", part.FormName()+" must be an integer", nil))
				return
			}
			if part.FormName() == "task_id" {
				opts.TaskID = id
			} else {
				opts.TypeID = id
			}
		case "file":
			opts.Filename = part.FileName()
			opts.ContentType = part.Header.Get("Content-Type")
			opts.Body = part
			doc, err := h.engine.UploadDocument(req.Context(), opts)
			if err != nil {
				respondStatusError(w, h.handleError(err))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Location", path.Join(req.URL.Path, strconv.FormatInt(doc.ID, 10)))
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(doc)
			return
		}
	}
	respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "file part is required", nil))
}

func formID(r io.Reader) (*int64, error) {
	raw, err := io.ReadAll(io.LimitReader(r, 32))
	if err != nil {
		return nil, err
	}
	v := strings.TrimSpace(string(raw))
	if v == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (h handlers) streamFile(w http.ResponseWriter, filename string, obj blob.Object) {
	defer obj.Body.Close()
	contentType := obj.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(filename))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	if _, err := io.Copy(w, obj.Body); err != nil {
		h.log.WithError(err).WithField("filename", filename).Warn("download interrupted")
	}
}
