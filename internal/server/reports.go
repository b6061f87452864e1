package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func registerReports(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "monthly-report",
		Method:      http.MethodGet,
		Path:        "/reports/monthly",
		Summary:     "Budget and expense of subtasks starting in a month",
		Tags:        []string{"reports"},
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Month string `query:"month" required:"true" doc:"Spanish month name, e.g. enero" example:"enero"`
		Year  int    `query:"year" required:"true" minimum:"1900" maximum:"9999"`
	}) (*out[MonthlyReport], error) {
		budget, err := h.reports.TotalBudgetByMonth(ctx, input.Month, input.Year)
		if err != nil {
			return nil, h.handleError(err)
		}
		expense, err := h.reports.TotalExpenseByMonth(ctx, input.Month, input.Year)
		if err != nil {
			return nil, h.handleError(err)
		}
		return reply(MonthlyReport{Month: input.Month, Year: input.Year, Budget: budget, Expense: expense}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "valley-report",
		Method:      http.MethodGet,
		Path:        "/reports/valleys/{id}",
		Summary:     "Budget, expense and progress of a valley",
		Tags:        []string{"reports"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Year int   `query:"year" doc:"year of the monthly budget rollup; defaults to the current year"`
	}) (*out[ValleyReport], error) {
		year := input.Year
		if year == 0 {
			year = h.engine.Now().In(h.engine.Config.Location()).Year()
		}
		res := ValleyReport{ValleyID: input.ID, Year: year}
		var err error
		if res.Budget, err = h.reports.ValleyBudget(ctx, input.ID); err != nil {
			return nil, h.handleError(err)
		}
		if res.Expense, err = h.reports.ValleyExpense(ctx, input.ID); err != nil {
			return nil, h.handleError(err)
		}
		if res.Progress, err = h.reports.ValleyProgress(ctx, input.ID); err != nil {
			return nil, h.handleError(err)
		}
		if res.Monthly, err = h.reports.MonthlyBudgetByValley(ctx, input.ID, year); err != nil {
			return nil, h.handleError(err)
		}
		return reply(res), nil
	})
}
