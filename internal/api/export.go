package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/yelabb/readquest/internal/story"
)

// handleExportStories streams the recent story catalog as an xlsx workbook,
// one row per story. It accepts the same readingLevel and limit parameters
// as the list endpoint.
func (s *Server) handleExportStories(w http.ResponseWriter, r *http.Request) {
	level, limit, ok := s.listParams(w, r)
	if !ok {
		return
	}

	stories, err := s.stories.ListRecent(r.Context(), level, limit)
	if err != nil {
		slog.Error("listing stories for export failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal", "export failed")
		return
	}

	f, err := buildWorkbook(stories)
	if err != nil {
		slog.Error("building export workbook failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal", "export failed")
		return
	}
	defer f.Close()

	filename := fmt.Sprintf("stories-%s.xlsx", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if err := f.Write(w); err != nil {
		slog.Error("writing export workbook failed", "error", err)
	}
}

func buildWorkbook(stories []story.Story) (*excelize.File, error) {
	f := excelize.NewFile()

	const sheet = "Stories"
	idx, err := f.NewSheet(sheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("drop default sheet: %w", err)
	}

	header := []any{"ID", "Title", "Theme", "Reading Level", "Language", "Words", "Minutes", "Vocabulary", "Created"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	for i, st := range stories {
		vocab := make([]string, 0, len(st.Vocabulary))
		for _, v := range st.Vocabulary {
			vocab = append(vocab, v.Word)
		}
		row := []any{
			st.ID,
			st.Title,
			st.Theme,
			st.ReadingLevel.String(),
			st.Language,
			st.WordCount,
			st.ReadingMinutes,
			strings.Join(vocab, ", "),
			st.CreatedAt.UTC().Format("2006-01-02 15:04"),
		}
		cell := fmt.Sprintf("A%d", i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i, err)
		}
	}

	return f, nil
}
