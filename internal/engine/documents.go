package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"

	"compliancehub/internal/blob"
	"compliancehub/internal/domain"
	"compliancehub/internal/events"
	"compliancehub/internal/repo"
)

type DocumentUploadOptions struct {
	TaskID      *int64
	TypeID      *int64
	Filename    string
	ContentType string
	Body        io.Reader
	ActorID     string
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// UploadDocument stores the content under a timestamped key and records the
// document row. The blob is removed again if the row cannot be written.
func (e Engine) UploadDocument(ctx context.Context, opts DocumentUploadOptions) (domain.Document, error) {
	filename := strings.TrimSpace(opts.Filename)
	if filename == "" {
		return domain.Document{}, badRequest("filename is required")
	}
	if opts.Body == nil {
		return domain.Document{}, badRequest("file content is required")
	}
	opts.TaskID = optionalID(opts.TaskID)
	opts.TypeID = optionalID(opts.TypeID)
	if opts.TaskID != nil {
		if _, err := e.Repo.GetTask(ctx, e.DB, *opts.TaskID); err != nil {
			return domain.Document{}, wrapNotFound(err, "task", *opts.TaskID)
		}
	}
	if opts.TypeID != nil {
		ok, err := e.Repo.LookupExists(ctx, e.DB, repo.LookupDocumentTypes, *opts.TypeID)
		if err != nil {
			return domain.Document{}, err
		}
		if !ok {
			return domain.Document{}, badRequest("unknown document type %d", *opts.TypeID)
		}
	}
	body := &countingReader{r: opts.Body}
	path, err := e.Blobs.Put(ctx, blob.UniqueKey(filename, e.now()), body, opts.ContentType)
	if err != nil {
		return domain.Document{}, fmt.Errorf("store %s: %w", filename, err)
	}
	doc := domain.Document{
		TaskID:     opts.TaskID,
		TypeID:     opts.TypeID,
		Path:       path,
		Filename:   filename,
		Size:       body.n,
		UploadDate: e.timestamp(),
	}
	if err := e.recordDocument(ctx, &doc, opts.ActorID); err != nil {
		e.deleteBlob(ctx, path)
		return domain.Document{}, err
	}
	e.Log.WithFields(log.Fields{"document_id": doc.ID, "path": path, "size": doc.Size}).Debug("document uploaded")
	return doc, nil
}

func (e Engine) recordDocument(ctx context.Context, doc *domain.Document, actorID string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertDocument(ctx, tx, doc); err != nil {
		return referenceError(err, "document")
	}
	var taskID any
	if doc.TaskID != nil {
		taskID = *doc.TaskID
	}
	if err := e.Events.Append(ctx, tx, "document.upload", "document", doc.ID, actorID, events.EventPayload{
		"task_id": taskID, "filename": doc.Filename, "size": doc.Size,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) GetDocument(ctx context.Context, id int64) (domain.Document, error) {
	doc, err := e.Repo.GetDocument(ctx, e.DB, id)
	if err != nil {
		return domain.Document{}, wrapNotFound(err, "document", id)
	}
	return doc, nil
}

func (e Engine) ListDocuments(ctx context.Context, taskID int64) ([]domain.Document, error) {
	if _, err := e.Repo.GetTask(ctx, e.DB, taskID); err != nil {
		return nil, wrapNotFound(err, "task", taskID)
	}
	return e.Repo.ListDocumentsByTask(ctx, e.DB, taskID)
}

// DownloadDocument opens the stored content of a document. The caller closes the body.
func (e Engine) DownloadDocument(ctx context.Context, id int64) (domain.Document, blob.Object, error) {
	doc, err := e.GetDocument(ctx, id)
	if err != nil {
		return domain.Document{}, blob.Object{}, err
	}
	obj, err := e.openBlob(ctx, doc.Path, "document", id)
	if err != nil {
		return domain.Document{}, blob.Object{}, err
	}
	if obj.Size <= 0 {
		obj.Size = doc.Size
	}
	return doc, obj, nil
}

// DownloadHistoryDoc opens the stored content of an archived document.
func (e Engine) DownloadHistoryDoc(ctx context.Context, id int64) (domain.HistoryDoc, blob.Object, error) {
	hd, err := e.Repo.GetHistoryDoc(ctx, e.DB, id)
	if err != nil {
		return domain.HistoryDoc{}, blob.Object{}, wrapNotFound(err, "history document", id)
	}
	obj, err := e.openBlob(ctx, hd.Path, "history document", id)
	if err != nil {
		return domain.HistoryDoc{}, blob.Object{}, err
	}
	if obj.Size <= 0 {
		obj.Size = hd.Size
	}
	return hd, obj, nil
}

func (e Engine) openBlob(ctx context.Context, path, kind string, id int64) (blob.Object, error) {
	obj, err := e.Blobs.Get(ctx, path)
	if errors.Is(err, blob.ErrNotFound) {
		return blob.Object{}, fmt.Errorf("%s %d content: %w", kind, id, repo.ErrNotFound)
	}
	if err != nil {
		return blob.Object{}, fmt.Errorf("open %s %d: %w", kind, id, err)
	}
	return obj, nil
}

// DocumentDeletion reports what DeleteDocument removed.
type DocumentDeletion struct {
	Document    domain.Document `json:"document"`
	BlobDeleted bool            `json:"blob_deleted"`
}

// DeleteDocument removes a document row. The blob is kept when the owning task
// has been archived or an archived document points at the same path.
func (e Engine) DeleteDocument(ctx context.Context, id int64, actorID string) (DocumentDeletion, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return DocumentDeletion{}, err
	}
	defer tx.Rollback()

	doc, err := e.Repo.GetDocument(ctx, tx, id)
	if err != nil {
		return DocumentDeletion{}, wrapNotFound(err, "document", id)
	}
	keepBlob := false
	if doc.TaskID != nil {
		t, err := e.Repo.GetTask(ctx, tx, *doc.TaskID)
		switch {
		case err == nil:
			if keepBlob, err = e.Repo.HasHistoryForTask(ctx, tx, t.ID, t.Name); err != nil {
				return DocumentDeletion{}, err
			}
		case !errors.Is(err, repo.ErrNotFound):
			return DocumentDeletion{}, err
		}
	}
	if keepBlob, err = e.retainsBlob(ctx, tx, keepBlob, doc.Path); err != nil {
		return DocumentDeletion{}, err
	}
	if err := e.Repo.DeleteDocument(ctx, tx, id); err != nil {
		return DocumentDeletion{}, wrapNotFound(err, "document", id)
	}
	if err := e.Events.Append(ctx, tx, "document.delete", "document", id, actorID, events.EventPayload{
		"filename": doc.Filename, "blob_kept": keepBlob,
	}); err != nil {
		return DocumentDeletion{}, err
	}
	if err := tx.Commit(); err != nil {
		return DocumentDeletion{}, err
	}
	res := DocumentDeletion{Document: doc}
	if !keepBlob {
		res.BlobDeleted = e.deleteBlob(ctx, doc.Path)
	}
	return res, nil
}

// retainsBlob reports whether the blob at path must survive its document row.
func (e Engine) retainsBlob(ctx context.Context, q repo.Querier, taskArchived bool, path string) (bool, error) {
	if taskArchived {
		return true, nil
	}
	return e.Repo.PathReferencedByHistory(ctx, q, path)
}
