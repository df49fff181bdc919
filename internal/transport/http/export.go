package http

import (
	"fmt"
	"time"

	"live-quiz-service/internal/domain"

	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "Results"
	answersSheet = "Answers"
)

// buildResultsWorkbook renders a round's results: one ranked summary row per student and
// one row per submitted answer.
func buildResultsWorkbook(session domain.Session, records []domain.ProgressRecord) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("rename results sheet: %w", err)
	}
	if _, err := f.NewSheet(answersSheet); err != nil {
		return nil, fmt.Errorf("create answers sheet: %w", err)
	}

	summary := [][]any{{"Rank", "Student", "Status", "Answered", "Score", "Power", "Total Time (s)", "Joined At"}}
	for i, rec := range records {
		total := ""
		if rec.TotalTimeTakenSeconds != nil {
			total = fmt.Sprintf("%.1f", *rec.TotalTimeTakenSeconds)
		}
		summary = append(summary, []any{
			i + 1,
			rec.StudentName,
			string(rec.Status),
			fmt.Sprintf("%d/%d", len(rec.Answers), len(session.Questions)),
			rec.Score,
			rec.Power,
			total,
			rec.JoinedAt.UTC().Format(time.RFC3339),
		})
	}
	if err := writeRows(f, summarySheet, summary); err != nil {
		return nil, err
	}

	questions := make(map[string]domain.Question, len(session.Questions))
	for _, q := range session.Questions {
		questions[q.ID] = q
	}
	answers := [][]any{{"Student", "Question", "Selected", "Correct Answer", "Correct", "Time (s)"}}
	for _, rec := range records {
		for _, a := range rec.Answers {
			q := questions[a.QuestionID]
			answers = append(answers, []any{
				rec.StudentName,
				q.Text,
				optionText(q, a.SelectedOptionIndex),
				optionText(q, &q.CorrectOptionIndex),
				a.IsCorrect,
				a.TimeTakenSeconds,
			})
		}
	}
	if err := writeRows(f, answersSheet, answers); err != nil {
		return nil, err
	}

	f.SetActiveSheet(0)
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write results workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func optionText(q domain.Question, idx *int) string {
	if idx == nil {
		return "(no answer)"
	}
	if *idx < 0 || *idx >= len(q.Options) {
		return ""
	}
	return q.Options[*idx]
}
