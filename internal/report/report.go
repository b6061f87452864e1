// Package report computes read-only budget, expense and progress rollups over subtasks.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"compliancehub/internal/repo"
)

// Open wraps an existing connection so reports share the application's pool.
func Open(sqlDB *sql.DB) (*gorm.DB, error) {
	return gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		Conn:       sqlDB,
	}, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
}

type Service struct {
	db *gorm.DB
}

func New(db *gorm.DB) Service {
	return Service{db: db}
}

// MonthlyAmount is one bucket of a per-month rollup.
type MonthlyAmount struct {
	Month  int    `json:"month"`
	Name   string `json:"name"`
	Budget int64  `json:"budget"`
}

// TaskSummary bundles every rollup for one task.
type TaskSummary struct {
	TaskID   int64   `json:"task_id"`
	Progress float64 `json:"progress"`
	Budget   int64   `json:"budget"`
	Expense  int64   `json:"expense"`
}

func (s Service) ensureExists(ctx context.Context, table, kind string, id int64) error {
	var n int64
	if err := s.db.WithContext(ctx).Table(table).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, repo.ErrNotFound)
	}
	return nil
}

func (s Service) subtasksOfTask(ctx context.Context, taskID int64) *gorm.DB {
	return s.db.WithContext(ctx).Table("subtasks").Where("subtasks.task_id = ?", taskID)
}

func (s Service) subtasksOfValley(ctx context.Context, valleyID int64) *gorm.DB {
	return s.db.WithContext(ctx).Table("subtasks").
		Joins("JOIN tasks ON tasks.id = subtasks.task_id").
		Where("tasks.valley_id = ?", valleyID)
}

func progress(q *gorm.DB) (float64, error) {
	var avg sql.NullFloat64
	err := q.Joins("JOIN subtask_statuses ON subtask_statuses.id = subtasks.status_id").
		Select("AVG(subtask_statuses.percentage)").
		Row().Scan(&avg)
	if err != nil {
		return 0, err
	}
	return avg.Float64, nil
}

func sum(q *gorm.DB, column string) (int64, error) {
	var total int64
	err := q.Select(fmt.Sprintf("COALESCE(SUM(subtasks.%s), 0)", column)).Row().Scan(&total)
	return total, err
}

// TaskProgress is the mean status percentage of the task's subtasks, 0 without subtasks.
func (s Service) TaskProgress(ctx context.Context, taskID int64) (float64, error) {
	if err := s.ensureExists(ctx, "tasks", "task", taskID); err != nil {
		return 0, err
	}
	return progress(s.subtasksOfTask(ctx, taskID))
}

func (s Service) TotalBudget(ctx context.Context, taskID int64) (int64, error) {
	if err := s.ensureExists(ctx, "tasks", "task", taskID); err != nil {
		return 0, err
	}
	return sum(s.subtasksOfTask(ctx, taskID), "budget")
}

func (s Service) TotalExpense(ctx context.Context, taskID int64) (int64, error) {
	if err := s.ensureExists(ctx, "tasks", "task", taskID); err != nil {
		return 0, err
	}
	return sum(s.subtasksOfTask(ctx, taskID), "expense")
}

func (s Service) TaskSummary(ctx context.Context, taskID int64) (TaskSummary, error) {
	out := TaskSummary{TaskID: taskID}
	var err error
	if out.Progress, err = s.TaskProgress(ctx, taskID); err != nil {
		return TaskSummary{}, err
	}
	if out.Budget, err = sum(s.subtasksOfTask(ctx, taskID), "budget"); err != nil {
		return TaskSummary{}, err
	}
	if out.Expense, err = sum(s.subtasksOfTask(ctx, taskID), "expense"); err != nil {
		return TaskSummary{}, err
	}
	return out, nil
}

func (s Service) ValleyBudget(ctx context.Context, valleyID int64) (int64, error) {
	if err := s.ensureExists(ctx, "valleys", "valley", valleyID); err != nil {
		return 0, err
	}
	return sum(s.subtasksOfValley(ctx, valleyID), "budget")
}

func (s Service) ValleyExpense(ctx context.Context, valleyID int64) (int64, error) {
	if err := s.ensureExists(ctx, "valleys", "valley", valleyID); err != nil {
		return 0, err
	}
	return sum(s.subtasksOfValley(ctx, valleyID), "expense")
}

// ValleyProgress is the mean status percentage over every subtask in the valley.
func (s Service) ValleyProgress(ctx context.Context, valleyID int64) (float64, error) {
	if err := s.ensureExists(ctx, "valleys", "valley", valleyID); err != nil {
		return 0, err
	}
	return progress(s.subtasksOfValley(ctx, valleyID))
}

func (s Service) byMonth(ctx context.Context, month string, year int, column string) (int64, error) {
	m, ok := ParseMonth(month)
	if !ok {
		return 0, repo.BadRequestError{Message: fmt.Sprintf("unknown month %q", month)}
	}
	if year <= 0 {
		return 0, repo.BadRequestError{Message: "year must be positive"}
	}
	from, to := monthRange(m, year)
	q := s.db.WithContext(ctx).Table("subtasks").Where("subtasks.start_date >= ? AND subtasks.start_date < ?", from, to)
	return sum(q, column)
}

// TotalBudgetByMonth sums the budget of subtasks starting in the named Spanish month.
func (s Service) TotalBudgetByMonth(ctx context.Context, month string, year int) (int64, error) {
	return s.byMonth(ctx, month, year, "budget")
}

// TotalExpenseByMonth sums the expense of subtasks starting in the named Spanish month.
func (s Service) TotalExpenseByMonth(ctx context.Context, month string, year int) (int64, error) {
	return s.byMonth(ctx, month, year, "expense")
}

// MonthlyBudgetByValley returns twelve buckets of budget for the valley's subtasks
// by start month. Subtasks without a start date are left out.
func (s Service) MonthlyBudgetByValley(ctx context.Context, valleyID int64, year int) ([]MonthlyAmount, error) {
	if err := s.ensureExists(ctx, "valleys", "valley", valleyID); err != nil {
		return nil, err
	}
	var rows []struct {
		Month  string
		Budget int64
	}
	prefix := fmt.Sprintf("%04d-", year)
	err := s.subtasksOfValley(ctx, valleyID).
		Select("substr(subtasks.start_date, 6, 2) AS month, COALESCE(SUM(subtasks.budget), 0) AS budget").
		Where("subtasks.start_date LIKE ?", prefix+"%").
		Group("month").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]MonthlyAmount, 12)
	for i := range out {
		out[i] = MonthlyAmount{Month: i + 1, Name: MonthName(time.Month(i + 1))}
	}
	for _, r := range rows {
		m, err := strconv.Atoi(r.Month)
		if err != nil || m < 1 || m > 12 {
			continue
		}
		out[m-1].Budget = r.Budget
	}
	return out, nil
}
