package engine_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"compliancehub/internal/blob"
	"compliancehub/internal/config"
	"compliancehub/internal/db"
	"compliancehub/internal/domain"
	"compliancehub/internal/engine"
	"compliancehub/internal/migrate"
	"compliancehub/internal/repo"
)

type testEnv struct {
	Engine    engine.Engine
	Blobs     *blob.MemStore
	Ctx       context.Context
	ValleyID  int64
	ProcessID int64
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Dir: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	logger := log.New()
	logger.SetOutput(io.Discard)
	store := blob.NewMemStore("documents")
	eng := engine.New(conn, config.Default(), store, logger)
	eng.Now = func() time.Time { return time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC) }
	valley, err := eng.Repo.InsertLookup(ctx, conn, repo.LookupValleys, "Copiapó")
	if err != nil {
		t.Fatalf("seed valley: %v", err)
	}
	process, err := eng.Repo.InsertLookup(ctx, conn, repo.LookupProcesses, "Relacionamiento")
	if err != nil {
		t.Fatalf("seed process: %v", err)
	}
	return testEnv{Engine: eng, Blobs: store, Ctx: ctx, ValleyID: valley, ProcessID: process}
}

func (env testEnv) createTask(t *testing.T, name string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Name:      name,
		ValleyID:  env.ValleyID,
		ProcessID: env.ProcessID,
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatalf("create task %s: %v", name, err)
	}
	return task
}

func (env testEnv) upload(t *testing.T, taskID *int64, filename, content string) domain.Document {
	t.Helper()
	doc, err := env.Engine.UploadDocument(env.Ctx, engine.DocumentUploadOptions{
		TaskID:   taskID,
		Filename: filename,
		Body:     strings.NewReader(content),
		ActorID:  "tester",
	})
	if err != nil {
		t.Fatalf("upload %s: %v", filename, err)
	}
	return doc
}

func ptr[T any](v T) *T { return &v }

func TestCreateTaskDefaultsAndConflict(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Mesa de trabajo")
	if task.StatusID != env.Engine.Config.Lifecycle.TaskDefaultStatusID {
		t.Fatalf("expected default status, got %d", task.StatusID)
	}
	if task.ValleyName != "Copiapó" {
		t.Fatalf("expected joined valley name, got %q", task.ValleyName)
	}
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Name: "Mesa de trabajo", ValleyID: env.ValleyID, ProcessID: env.ProcessID,
	})
	if !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict for duplicate task, got %v", err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Name: " ", ValleyID: env.ValleyID, ProcessID: env.ProcessID}); !engine.IsBadRequest(err) {
		t.Fatalf("expected bad request for blank name, got %v", err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Name: "x", ValleyID: 999, ProcessID: env.ProcessID}); !engine.IsBadRequest(err) {
		t.Fatalf("expected bad request for unknown valley, got %v", err)
	}
}

func TestCompletingTaskArchivesHistory(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Aporte sede social")
	for _, expense := range []int64{1200, 800, 0} {
		if _, err := env.Engine.CreateSubtask(env.Ctx, engine.SubtaskCreateOptions{
			TaskID: task.ID, Name: "gasto", Budget: 1000, Expense: expense,
		}); err != nil {
			t.Fatalf("create subtask: %v", err)
		}
	}
	comp, err := env.Engine.CreateCompliance(env.Ctx, engine.ComplianceCreateOptions{
		TaskID: task.ID, SolpedMemoSap: ptr(int64(4500123)), HesHemSap: ptr(int64(1000777)),
	})
	if err != nil {
		t.Fatalf("create compliance: %v", err)
	}
	doc := env.upload(t, &task.ID, "acta.pdf", "contenido")

	completed := env.Engine.Config.Lifecycle.TaskCompletedStatusID
	task, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, StatusID: &completed, ActorID: "tester"})
	if err != nil {
		t.Fatalf("complete task: %v", err)
	}
	if task.StatusID != completed {
		t.Fatalf("expected completed status, got %d", task.StatusID)
	}
	hist, err := env.Engine.ListHistories(env.Ctx, repo.HistoryFilters{TaskID: task.ID})
	if err != nil {
		t.Fatalf("list histories: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("expected one history row, got %d", len(hist))
	}
	h, err := env.Engine.GetHistory(env.Ctx, hist[0].ID)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if h.TotalExpense != 2000 {
		t.Fatalf("expected total expense 2000, got %d", h.TotalExpense)
	}
	if h.SolpedMemoSap != *comp.SolpedMemoSap || h.HesHemSap != *comp.HesHemSap {
		t.Fatalf("expected sap codes copied from compliance, got %d/%d", h.SolpedMemoSap, h.HesHemSap)
	}
	if h.FinalDate != "2024-01-15" {
		t.Fatalf("unexpected final date %s", h.FinalDate)
	}
	if len(h.Documents) != 1 || h.Documents[0].Path != doc.Path {
		t.Fatalf("expected history doc reusing path %s, got %+v", doc.Path, h.Documents)
	}

	// Saving again in the completed status does not archive twice.
	desc := "cerrada"
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Description: &desc, StatusID: &completed}); err != nil {
		t.Fatalf("update completed task: %v", err)
	}
	hist, _ = env.Engine.ListHistories(env.Ctx, repo.HistoryFilters{TaskID: task.ID})
	if len(hist) != 1 {
		t.Fatalf("expected archival once, got %d rows", len(hist))
	}
}

func TestCompletingTaskWithoutSubtasksArchivesZero(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Sin gastos")
	completed := env.Engine.Config.Lifecycle.TaskCompletedStatusID
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, StatusID: &completed}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	hist, err := env.Engine.ListHistories(env.Ctx, repo.HistoryFilters{TaskID: task.ID})
	if err != nil || len(hist) != 1 {
		t.Fatalf("expected one history row: %v %d", err, len(hist))
	}
	if hist[0].TotalExpense != 0 || hist[0].SolpedMemoSap != 0 || hist[0].HesHemSap != 0 {
		t.Fatalf("expected zero totals, got %+v", hist[0])
	}
}

func TestFailedArchiveKeepsTaskStatus(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Sin archivo")
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `CREATE TRIGGER block_archive BEFORE INSERT ON histories
BEGIN SELECT RAISE(ABORT, 'archive unavailable'); END`); err != nil {
		t.Fatal(err)
	}
	completed := env.Engine.Config.Lifecycle.TaskCompletedStatusID
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, StatusID: &completed}); err == nil {
		t.Fatalf("expected completion to fail when archival fails")
	}
	got, err := env.Engine.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.StatusID != task.StatusID {
		t.Fatalf("expected status %d after failed archive, got %d", task.StatusID, got.StatusID)
	}
	hist, _ := env.Engine.ListHistories(env.Ctx, repo.HistoryFilters{TaskID: task.ID})
	if len(hist) != 0 {
		t.Fatalf("expected no history rows, got %d", len(hist))
	}
}

func TestRemoveTaskCascades(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Cascada")
	if _, err := env.Engine.CreateSubtask(env.Ctx, engine.SubtaskCreateOptions{TaskID: task.ID, Name: "a"}); err != nil {
		t.Fatal(err)
	}
	comp, err := env.Engine.CreateCompliance(env.Ctx, engine.ComplianceCreateOptions{TaskID: task.ID})
	if err != nil {
		t.Fatal(err)
	}
	reg, err := env.Engine.CreateRegistry(env.Ctx, engine.RegistryOptions{ComplianceID: comp.ID, Hes: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AttachSolped(env.Ctx, reg.ID, engine.FinancialInput{Number: ptr(int64(10))}); err != nil {
		t.Fatal(err)
	}
	env.upload(t, &task.ID, "plano.dwg", "bytes")

	snap, err := env.Engine.RemoveTask(env.Ctx, task.ID, "tester")
	if err != nil {
		t.Fatalf("remove task: %v", err)
	}
	if len(snap.Subtasks) != 1 || len(snap.Compliances) != 1 || len(snap.Documents) != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if len(snap.Compliances[0].Registries) != 1 || snap.Compliances[0].Registries[0].Solped == nil {
		t.Fatalf("expected registry with solped in snapshot")
	}
	if _, err := env.Engine.GetTask(env.Ctx, task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if _, err := env.Engine.GetCompliance(env.Ctx, comp.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected compliance gone, got %v", err)
	}
	if _, err := env.Engine.GetRegistry(env.Ctx, reg.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected registry gone, got %v", err)
	}
	if env.Blobs.Len() != 0 {
		t.Fatalf("expected blobs of an unarchived task removed, %d left", env.Blobs.Len())
	}
	if _, err := env.Engine.RemoveTask(env.Ctx, task.ID, "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestRemoveArchivedTaskKeepsHistoryAndBlobs(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Archivada")
	env.upload(t, &task.ID, "informe.pdf", "pdf")
	completed := env.Engine.Config.Lifecycle.TaskCompletedStatusID
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, StatusID: &completed}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RemoveTask(env.Ctx, task.ID, "tester"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	hist, err := env.Engine.ListHistories(env.Ctx, repo.HistoryFilters{Name: "Archivada"})
	if err != nil || len(hist) != 1 {
		t.Fatalf("expected history to survive task delete: %v %d", err, len(hist))
	}
	if hist[0].TaskID != nil {
		t.Fatalf("expected task reference cleared")
	}
	if env.Blobs.Len() != 1 {
		t.Fatalf("expected archived blob kept")
	}
	h, _ := env.Engine.GetHistory(env.Ctx, hist[0].ID)
	_, obj, err := env.Engine.DownloadHistoryDoc(env.Ctx, h.Documents[0].ID)
	if err != nil {
		t.Fatalf("download history doc: %v", err)
	}
	defer obj.Body.Close()
	data, _ := io.ReadAll(obj.Body)
	if string(data) != "pdf" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestSecondComplianceRejected(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Una sola")
	comp, err := env.Engine.CreateCompliance(env.Ctx, engine.ComplianceCreateOptions{TaskID: task.ID})
	if err != nil {
		t.Fatal(err)
	}
	if comp.StatusID != 1 {
		t.Fatalf("expected first status, got %d", comp.StatusID)
	}
	_, err = env.Engine.CreateCompliance(env.Ctx, engine.ComplianceCreateOptions{TaskID: task.ID})
	if !engine.IsBadRequest(err) {
		t.Fatalf("expected bad request, got %v", err)
	}
	if _, err := env.Engine.CreateCompliance(env.Ctx, engine.ComplianceCreateOptions{TaskID: 4242}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for missing task, got %v", err)
	}
}

func TestAdvanceStatusStopsAtTerminal(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Avance")
	comp, err := env.Engine.CreateCompliance(env.Ctx, engine.ComplianceCreateOptions{TaskID: task.ID})
	if err != nil {
		t.Fatal(err)
	}
	for want := int64(2); want <= 6; want++ {
		comp, err = env.Engine.AdvanceStatus(env.Ctx, comp.ID, "tester")
		if err != nil {
			t.Fatalf("advance to %d: %v", want, err)
		}
		if comp.StatusID != want {
			t.Fatalf("expected status %d, got %d", want, comp.StatusID)
		}
	}
	if _, err := env.Engine.AdvanceStatus(env.Ctx, comp.ID, "tester"); !engine.IsBadRequest(err) {
		t.Fatalf("expected bad request at terminal status, got %v", err)
	}
}

func TestListoCompletesWhenConfigured(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Listo")
	comp, err := env.Engine.CreateCompliance(env.Ctx, engine.ComplianceCreateOptions{TaskID: task.ID})
	if err != nil {
		t.Fatal(err)
	}
	comp, err = env.Engine.UpdateCompliance(env.Ctx, engine.ComplianceUpdateOptions{ID: comp.ID, Listo: ptr(true)})
	if err != nil {
		t.Fatal(err)
	}
	if comp.StatusID != 1 || !comp.Listo {
		t.Fatalf("listo alone should not change status by default: %+v", comp)
	}
	env.Engine.Config.Compliance.ListoCompletes = true
	comp, err = env.Engine.UpdateCompliance(env.Ctx, engine.ComplianceUpdateOptions{ID: comp.ID, Listo: ptr(true)})
	if err != nil {
		t.Fatal(err)
	}
	if comp.StatusID != env.Engine.Config.Compliance.CompletedStatusID {
		t.Fatalf("expected completed status, got %d", comp.StatusID)
	}
	if _, err := env.Engine.UpdateCompliance(env.Ctx, engine.ComplianceUpdateOptions{ID: comp.ID, StatusID: ptr(int64(99))}); !engine.IsBadRequest(err) {
		t.Fatalf("expected bad request for unknown status, got %v", err)
	}
}

func TestSolpedMemoMutuallyExclusive(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Financiero")
	comp, err := env.Engine.CreateCompliance(env.Ctx, engine.ComplianceCreateOptions{TaskID: task.ID})
	if err != nil {
		t.Fatal(err)
	}
	withMemo, err := env.Engine.CreateRegistry(env.Ctx, engine.RegistryOptions{ComplianceID: comp.ID, Hem: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AttachMemo(env.Ctx, withMemo.ID, engine.FinancialInput{Number: ptr(int64(77))}); err != nil {
		t.Fatalf("attach memo: %v", err)
	}
	if _, err := env.Engine.AttachSolped(env.Ctx, withMemo.ID, engine.FinancialInput{}); !engine.IsBadRequest(err) {
		t.Fatalf("expected bad request for solped on memo registry, got %v", err)
	}
	if _, err := env.Engine.AttachMemo(env.Ctx, withMemo.ID, engine.FinancialInput{}); !engine.IsBadRequest(err) {
		t.Fatalf("expected bad request for second memo, got %v", err)
	}

	withSolped, err := env.Engine.CreateRegistry(env.Ctx, engine.RegistryOptions{ComplianceID: comp.ID, Hes: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AttachSolped(env.Ctx, withSolped.ID, engine.FinancialInput{Valor: ptr(int64(5000))}); err != nil {
		t.Fatalf("attach solped: %v", err)
	}
	if _, err := env.Engine.AttachMemo(env.Ctx, withSolped.ID, engine.FinancialInput{}); !engine.IsBadRequest(err) {
		t.Fatalf("expected bad request for memo on solped registry, got %v", err)
	}

	reg, err := env.Engine.UpdateFinancials(env.Ctx, withSolped.ID, engine.FinancialInput{Number: ptr(int64(4500))})
	if err != nil {
		t.Fatalf("update financials: %v", err)
	}
	if reg.Solped == nil || *reg.Solped.SapNumber != 4500 || *reg.Solped.Valor != 5000 {
		t.Fatalf("unexpected solped after patch: %+v", reg.Solped)
	}
	if err := env.Engine.DetachFinancials(env.Ctx, withSolped.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AttachMemo(env.Ctx, withSolped.ID, engine.FinancialInput{}); err != nil {
		t.Fatalf("attach memo after detach: %v", err)
	}
}

func TestDeleteDocumentRetention(t *testing.T) {
	env := newTestEnv(t)

	loose := env.upload(t, nil, "suelto.txt", "a")
	res, err := env.Engine.DeleteDocument(env.Ctx, loose.ID, "tester")
	if err != nil || !res.BlobDeleted {
		t.Fatalf("expected taskless document blob deleted: %v %+v", err, res)
	}

	open := env.createTask(t, "Abierta")
	doc := env.upload(t, &open.ID, "carta.docx", "b")
	res, err = env.Engine.DeleteDocument(env.Ctx, doc.ID, "tester")
	if err != nil || !res.BlobDeleted {
		t.Fatalf("expected blob of unarchived task deleted: %v %+v", err, res)
	}
	if _, _, err := env.Engine.DownloadDocument(env.Ctx, doc.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}

	archived := env.createTask(t, "Cerrada")
	kept := env.upload(t, &archived.ID, "minuta.pdf", "c")
	completed := env.Engine.Config.Lifecycle.TaskCompletedStatusID
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: archived.ID, StatusID: &completed}); err != nil {
		t.Fatal(err)
	}
	res, err = env.Engine.DeleteDocument(env.Ctx, kept.ID, "tester")
	if err != nil || res.BlobDeleted {
		t.Fatalf("expected archived blob kept: %v %+v", err, res)
	}
	if env.Blobs.Len() != 1 {
		t.Fatalf("expected exactly the archived blob to remain, got %d", env.Blobs.Len())
	}
}

func TestDeleteDocumentLegacyHistoryByName(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Legado")
	doc := env.upload(t, &task.ID, "antiguo.pdf", "x")
	legacy := domain.History{Name: "Legado", FinalDate: "2020-01-01", CreatedAt: "2020-01-01T00:00:00Z"}
	if err := env.Engine.Repo.InsertHistory(env.Ctx, env.Engine.DB, &legacy); err != nil {
		t.Fatalf("insert legacy history: %v", err)
	}
	res, err := env.Engine.DeleteDocument(env.Ctx, doc.ID, "tester")
	if err != nil || res.BlobDeleted {
		t.Fatalf("expected blob kept for legacy history match: %v %+v", err, res)
	}
}

func TestDeletedArchivedTaskDoesNotShieldNamesake(t *testing.T) {
	env := newTestEnv(t)
	first := env.createTask(t, "Mismo")
	env.upload(t, &first.ID, "acta.pdf", "archivada")
	completed := env.Engine.Config.Lifecycle.TaskCompletedStatusID
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: first.ID, StatusID: &completed}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RemoveTask(env.Ctx, first.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	if env.Blobs.Len() != 1 {
		t.Fatalf("expected archived blob kept after task delete, got %d", env.Blobs.Len())
	}

	second := env.createTask(t, "Mismo")
	doc := env.upload(t, &second.ID, "nuevo.pdf", "nuevo")
	res, err := env.Engine.DeleteDocument(env.Ctx, doc.ID, "tester")
	if err != nil || !res.BlobDeleted {
		t.Fatalf("expected blob of the new task deleted: %v %+v", err, res)
	}
	other := env.upload(t, &second.ID, "otro.pdf", "otro")
	if _, err := env.Engine.RemoveTask(env.Ctx, second.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Blobs.Get(env.Ctx, other.Path); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("expected blob removed with the new task, got %v", err)
	}
	if env.Blobs.Len() != 1 {
		t.Fatalf("expected only the archived blob to remain, got %d", env.Blobs.Len())
	}
}

func TestDeleteDocumentKeepsBlobSharedWithHistory(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Compartido")
	doc := env.upload(t, &task.ID, "plano.dwg", "x")
	h := domain.History{Name: "Otra", FinalDate: "2023-12-01", CreatedAt: "2023-12-01T00:00:00Z"}
	if err := env.Engine.Repo.InsertHistory(env.Ctx, env.Engine.DB, &h); err != nil {
		t.Fatal(err)
	}
	hd := domain.HistoryDoc{HistoryID: h.ID, Filename: doc.Filename, Path: doc.Path, UploadDate: doc.UploadDate}
	if err := env.Engine.Repo.InsertHistoryDoc(env.Ctx, env.Engine.DB, &hd); err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.DeleteDocument(env.Ctx, doc.ID, "tester")
	if err != nil || res.BlobDeleted {
		t.Fatalf("expected blob referenced by history kept: %v %+v", err, res)
	}
	_, obj, err := env.Engine.DownloadHistoryDoc(env.Ctx, hd.ID)
	if err != nil {
		t.Fatalf("history doc still downloadable: %v", err)
	}
	obj.Body.Close()
}

type failingDeletes struct {
	*blob.MemStore
}

func (failingDeletes) Delete(context.Context, string) error {
	return errors.New("storage unavailable")
}

func TestDeleteDocumentSwallowsBlobFailure(t *testing.T) {
	env := newTestEnv(t)
	doc := env.upload(t, nil, "suelto.txt", "a")
	env.Engine.Blobs = failingDeletes{env.Blobs}
	res, err := env.Engine.DeleteDocument(env.Ctx, doc.ID, "tester")
	if err != nil {
		t.Fatalf("expected delete to succeed despite blob failure: %v", err)
	}
	if res.BlobDeleted {
		t.Fatalf("expected BlobDeleted=false when the store fails")
	}
	if _, err := env.Engine.GetDocument(env.Ctx, doc.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected document row removed, got %v", err)
	}
}

func TestSameMillisecondUploadsKeepBothBlobs(t *testing.T) {
	env := newTestEnv(t)
	a := env.upload(t, nil, "igual.txt", "uno")
	b := env.upload(t, nil, "igual.txt", "dos")
	if a.Path == b.Path {
		t.Fatalf("expected distinct blob paths, both %s", a.Path)
	}
	if env.Blobs.Len() != 2 {
		t.Fatalf("expected two blobs, got %d", env.Blobs.Len())
	}
}

func TestUploadDocumentKeyAndDownload(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Descarga")
	doc := env.upload(t, &task.ID, "Informe Final.PDF", "hola mundo")
	if doc.Size != int64(len("hola mundo")) {
		t.Fatalf("expected size recorded, got %d", doc.Size)
	}
	if !strings.Contains(doc.Path, "/Informe%20Final_1705320000000-") || !strings.HasSuffix(doc.Path, ".pdf") {
		t.Fatalf("unexpected blob path %s", doc.Path)
	}
	got, obj, err := env.Engine.DownloadDocument(env.Ctx, doc.ID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer obj.Body.Close()
	data, _ := io.ReadAll(obj.Body)
	if got.Filename != "Informe Final.PDF" || string(data) != "hola mundo" || obj.Size != doc.Size {
		t.Fatalf("unexpected download %+v %q", got, data)
	}
	if _, err := env.Engine.UploadDocument(env.Ctx, engine.DocumentUploadOptions{Filename: "x.txt", Body: strings.NewReader(""), TypeID: ptr(int64(99))}); !engine.IsBadRequest(err) {
		t.Fatalf("expected bad request for unknown type, got %v", err)
	}
}

func TestSubtaskValidation(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Fechas")
	_, err := env.Engine.CreateSubtask(env.Ctx, engine.SubtaskCreateOptions{
		TaskID: task.ID, Name: "mal", StartDate: ptr("2024-03-10"), EndDate: ptr("2024-03-01"),
	})
	if !engine.IsBadRequest(err) {
		t.Fatalf("expected bad request for inverted dates, got %v", err)
	}
	if _, err := env.Engine.CreateSubtask(env.Ctx, engine.SubtaskCreateOptions{TaskID: task.ID, Name: "neg", Budget: -1}); !engine.IsBadRequest(err) {
		t.Fatalf("expected bad request for negative budget, got %v", err)
	}
	if _, err := env.Engine.CreateSubtask(env.Ctx, engine.SubtaskCreateOptions{TaskID: 999, Name: "huérfana"}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for missing task, got %v", err)
	}
	st, err := env.Engine.CreateSubtask(env.Ctx, engine.SubtaskCreateOptions{TaskID: task.ID, Name: "ok", StartDate: ptr("2024-03-01")})
	if err != nil {
		t.Fatal(err)
	}
	st, err = env.Engine.UpdateSubtask(env.Ctx, engine.SubtaskUpdateOptions{ID: st.ID, StatusID: ptr(int64(3)), StartDate: ptr("")})
	if err != nil {
		t.Fatalf("update subtask: %v", err)
	}
	if st.StatusID != 3 || st.StartDate != nil {
		t.Fatalf("unexpected subtask %+v", st)
	}
	if _, err := env.Engine.UpdateSubtask(env.Ctx, engine.SubtaskUpdateOptions{ID: st.ID, StatusID: ptr(int64(42))}); !engine.IsBadRequest(err) {
		t.Fatalf("expected bad request for unknown status, got %v", err)
	}
}

func TestExpiredCompliances(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "SLA")
	comp, err := env.Engine.CreateCompliance(env.Ctx, engine.ComplianceCreateOptions{TaskID: task.ID})
	if err != nil {
		t.Fatal(err)
	}
	expired, err := env.Engine.ExpiredCompliances(env.Ctx)
	if err != nil || len(expired) != 0 {
		t.Fatalf("expected nothing expired yet: %v %d", err, len(expired))
	}
	// Inscripción allows two days.
	env.Engine.Now = func() time.Time { return time.Date(2024, 1, 17, 12, 0, 1, 0, time.UTC) }
	expired, err = env.Engine.ExpiredCompliances(env.Ctx)
	if err != nil || len(expired) != 1 || expired[0].ID != comp.ID {
		t.Fatalf("expected compliance expired: %v %+v", err, expired)
	}
	if !engine.IsExpired(comp, domain.ComplianceStatus{Days: 2}, env.Engine.Now()) {
		t.Fatalf("expected IsExpired")
	}
	if engine.IsExpired(comp, domain.ComplianceStatus{Days: 0}, env.Engine.Now()) {
		t.Fatalf("statuses without days never expire")
	}
}

func TestSLAClockOnlyRestartsOnStatusChange(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Reloj")
	comp, err := env.Engine.CreateCompliance(env.Ctx, engine.ComplianceCreateOptions{TaskID: task.ID})
	if err != nil {
		t.Fatal(err)
	}
	at := func(day int) {
		env.Engine.Now = func() time.Time { return time.Date(2024, 1, day, 12, 0, 0, 0, time.UTC) }
	}

	at(17)
	patched, err := env.Engine.UpdateCompliance(env.Ctx, engine.ComplianceUpdateOptions{ID: comp.ID, Valor: ptr(int64(500)), Listo: ptr(true)})
	if err != nil {
		t.Fatal(err)
	}
	if patched.StatusChangedAt != comp.StatusChangedAt {
		t.Fatalf("field edit moved the status clock: %s -> %s", comp.StatusChangedAt, patched.StatusChangedAt)
	}
	at(18)
	expired, err := env.Engine.ExpiredCompliances(env.Ctx)
	if err != nil || len(expired) != 1 {
		t.Fatalf("expected compliance still expired after a field edit: %v %d", err, len(expired))
	}

	next := int64(2)
	if _, err := env.Engine.UpdateCompliance(env.Ctx, engine.ComplianceUpdateOptions{ID: comp.ID, StatusID: &next}); err != nil {
		t.Fatal(err)
	}
	expired, err = env.Engine.ExpiredCompliances(env.Ctx)
	if err != nil || len(expired) != 0 {
		t.Fatalf("expected a status change to restart the clock: %v %d", err, len(expired))
	}
	at(24)
	if _, err := env.Engine.AdvanceStatus(env.Ctx, comp.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.GetCompliance(env.Ctx, comp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.StatusChangedAt != "2024-01-24T12:00:00Z" {
		t.Fatalf("expected advance to restart the clock, got %s", got.StatusChangedAt)
	}
}

func TestBeneficiaryLifecycle(t *testing.T) {
	env := newTestEnv(t)
	b, err := env.Engine.CreateBeneficiary(env.Ctx, engine.BeneficiaryOptions{
		LegalName: "Junta de Vecinos Los Loros",
		Rut:       "65.123.456-k",
		Contacts:  []domain.Contact{{Name: "María"}},
	})
	if err != nil {
		t.Fatalf("create beneficiary: %v", err)
	}
	if b.Rut != "65123456-K" || len(b.Contacts) != 1 {
		t.Fatalf("unexpected beneficiary %+v", b)
	}
	if _, err := env.Engine.CreateBeneficiary(env.Ctx, engine.BeneficiaryOptions{LegalName: "Otra", Rut: "65123456-K"}); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict on duplicate rut, got %v", err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Name: "Con beneficiario", ValleyID: env.ValleyID, ProcessID: env.ProcessID, BeneficiaryID: &b.ID,
	}); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.RemoveBeneficiary(env.Ctx, b.ID, "tester"); !engine.IsBadRequest(err) {
		t.Fatalf("expected bad request removing referenced beneficiary, got %v", err)
	}
	c, err := env.Engine.AddContact(env.Ctx, engine.ContactOptions{BeneficiaryID: b.ID, Name: "Pedro"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpdateContact(env.Ctx, engine.ContactUpdateOptions{ID: c.ID, Phone: ptr("+56 9 1234 5678")}); err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.GetBeneficiary(env.Ctx, b.ID)
	if err != nil || len(got.Contacts) != 2 {
		t.Fatalf("expected two contacts: %v %+v", err, got)
	}
}

func TestEventsRecorded(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Auditada")
	evts, err := env.Engine.ListEvents(env.Ctx, repo.EventFilters{EntityKind: "task", EntityID: task.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 || evts[0].Type != "task.create" || evts[0].ActorID != "tester" {
		t.Fatalf("unexpected events %+v", evts)
	}
}
