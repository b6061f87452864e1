package report_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compliancehub/internal/blob"
	"compliancehub/internal/config"
	"compliancehub/internal/db"
	"compliancehub/internal/domain"
	"compliancehub/internal/engine"
	"compliancehub/internal/migrate"
	"compliancehub/internal/report"
	"compliancehub/internal/repo"
)

type fixture struct {
	eng      engine.Engine
	reports  report.Service
	valleyID int64
	process  int64
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn, err := db.Open(db.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	require.NoError(t, migrate.Migrate(ctx, conn))

	logger := log.New()
	logger.SetOutput(io.Discard)
	eng := engine.New(conn, config.Default(), blob.NewMemStore(""), logger)
	eng.Now = func() time.Time { return time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC) }
	gdb, err := report.Open(conn)
	require.NoError(t, err)

	valley, err := eng.Repo.InsertLookup(ctx, conn, repo.LookupValleys, "Huasco")
	require.NoError(t, err)
	process, err := eng.Repo.InsertLookup(ctx, conn, repo.LookupProcesses, "Inversión social")
	require.NoError(t, err)
	return fixture{eng: eng, reports: report.New(gdb), valleyID: valley, process: process}
}

func (f fixture) task(t *testing.T, name string, valleyID int64) domain.Task {
	t.Helper()
	task, err := f.eng.CreateTask(context.Background(), engine.TaskCreateOptions{Name: name, ValleyID: valleyID, ProcessID: f.process})
	require.NoError(t, err)
	return task
}

func (f fixture) subtask(t *testing.T, taskID, statusID, budget, expense int64, start string) {
	t.Helper()
	opts := engine.SubtaskCreateOptions{TaskID: taskID, Name: "st", StatusID: statusID, Budget: budget, Expense: expense}
	if start != "" {
		opts.StartDate = &start
	}
	_, err := f.eng.CreateSubtask(context.Background(), opts)
	require.NoError(t, err)
}

func TestTaskProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.task(t, "progreso", f.valleyID)

	p, err := f.reports.TaskProgress(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, p)

	f.subtask(t, task.ID, 2, 0, 0, "") // 50%
	f.subtask(t, task.ID, 3, 0, 0, "") // 100%
	p, err = f.reports.TaskProgress(ctx, task.ID)
	require.NoError(t, err)
	assert.InDelta(t, 75.0, p, 0.0001)

	_, err = f.reports.TaskProgress(ctx, 999)
	assert.True(t, errors.Is(err, repo.ErrNotFound))
}

func TestTaskTotals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.task(t, "totales", f.valleyID)

	budget, err := f.reports.TotalBudget(ctx, task.ID)
	require.NoError(t, err)
	assert.Zero(t, budget)

	f.subtask(t, task.ID, 1, 1000, 250, "2024-01-10")
	f.subtask(t, task.ID, 1, 500, 100, "2024-02-10")
	budget, err = f.reports.TotalBudget(ctx, task.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1500, budget)
	expense, err := f.reports.TotalExpense(ctx, task.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 350, expense)

	summary, err := f.reports.TaskSummary(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, report.TaskSummary{TaskID: task.ID, Progress: 0, Budget: 1500, Expense: 350}, summary)
}

func TestTotalsByMonth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.task(t, "mensual", f.valleyID)
	f.subtask(t, task.ID, 1, 100, 10, "2024-01-01")
	f.subtask(t, task.ID, 1, 200, 20, "2024-01-31")
	f.subtask(t, task.ID, 1, 400, 40, "2024-02-01")
	f.subtask(t, task.ID, 1, 800, 80, "2023-01-15")
	f.subtask(t, task.ID, 1, 1600, 160, "")

	budget, err := f.reports.TotalBudgetByMonth(ctx, "enero", 2024)
	require.NoError(t, err)
	assert.EqualValues(t, 300, budget)

	expense, err := f.reports.TotalExpenseByMonth(ctx, "ENERO", 2024)
	require.NoError(t, err)
	assert.EqualValues(t, 30, expense)

	_, err = f.reports.TotalBudgetByMonth(ctx, "january", 2024)
	assert.True(t, repo.IsBadRequest(err), "expected bad request, got %v", err)

	_, err = f.reports.TotalExpenseByMonth(ctx, "enero", 0)
	assert.True(t, repo.IsBadRequest(err), "expected bad request, got %v", err)
	assert.True(t, engine.IsBadRequest(err), "engine should see the same error kind")
}

func TestParseMonth(t *testing.T) {
	cases := map[string]time.Month{
		"enero":      time.January,
		" Febrero ":  time.February,
		"septiembre": time.September,
		"Setiembre":  time.September,
		"diciémbre":  time.December,
	}
	for in, want := range cases {
		got, ok := report.ParseMonth(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := report.ParseMonth("sept")
	assert.False(t, ok)
}

func TestValleyRollups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other, err := f.eng.Repo.InsertLookup(ctx, f.eng.DB, repo.LookupValleys, "Elqui")
	require.NoError(t, err)

	a := f.task(t, "a", f.valleyID)
	b := f.task(t, "b", f.valleyID)
	c := f.task(t, "c", other)
	f.subtask(t, a.ID, 3, 100, 90, "2024-03-05")
	f.subtask(t, b.ID, 1, 300, 10, "2024-03-20")
	f.subtask(t, b.ID, 2, 50, 0, "2024-07-01")
	f.subtask(t, c.ID, 3, 9999, 9999, "2024-03-01")

	budget, err := f.reports.ValleyBudget(ctx, f.valleyID)
	require.NoError(t, err)
	assert.EqualValues(t, 450, budget)

	expense, err := f.reports.ValleyExpense(ctx, f.valleyID)
	require.NoError(t, err)
	assert.EqualValues(t, 100, expense)

	p, err := f.reports.ValleyProgress(ctx, f.valleyID)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, p, 0.0001)

	months, err := f.reports.MonthlyBudgetByValley(ctx, f.valleyID, 2024)
	require.NoError(t, err)
	require.Len(t, months, 12)
	assert.EqualValues(t, 400, months[2].Budget)
	assert.Equal(t, "marzo", months[2].Name)
	assert.EqualValues(t, 50, months[6].Budget)
	assert.Zero(t, months[0].Budget)

	_, err = f.reports.ValleyBudget(ctx, 12345)
	assert.True(t, errors.Is(err, repo.ErrNotFound))
}
