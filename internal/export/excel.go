package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"vibecheck-moments/internal/models"
)

// MomentsReportHeader 时刻报表表头
var MomentsReportHeader = []string{
	"Moment ID",
	"Stream ID",
	"State",
	"T0 (s)",
	"TR (s)",
	"Moment Type",
	"Summary",
	"Hype",
	"Risk",
	"Clip Recipe",
	"Approval",
	"Share Card URL",
	"Created At",
	"Reason",
}

// GenerateMomentsReport 生成终态时刻报表 Excel 文件
// moments 为空时只生成表头
func GenerateMomentsReport(moments []*models.Moment) ([]byte, error) {
	f := excelize.NewFile()
	// WriteTo 需要文件保持打开，出错路径手动 Close

	sheetName := "Moments"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	// 删除默认的 Sheet1
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	// 表头样式
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	// 写入表头
	for col, header := range MomentsReportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}

	// 列宽
	columnWidths := []float64{
		40, // Moment ID
		20, // Stream ID
		12, // State
		10, // T0
		10, // TR
		14, // Moment Type
		50, // Summary
		8,  // Hype
		8,  // Risk
		45, // Clip Recipe
		14, // Approval
		40, // Share Card URL
		22, // Created At
		40, // Reason
	}
	for i := range MomentsReportHeader {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if i < len(columnWidths) {
			if err := f.SetColWidth(sheetName, col, col, columnWidths[i]); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set column width: %w", err)
			}
		}
	}

	// 写入数据
	for rowIdx, m := range moments {
		row := rowIdx + 2
		values := momentRow(m)
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell %s: %w", cell, err)
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write excel file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close excel file: %w", err)
	}

	return buf.Bytes(), nil
}

// momentRow 一条时刻记录的报表行
func momentRow(m *models.Moment) []interface{} {
	tr := ""
	if m.TR != nil {
		tr = fmt.Sprintf("%.1f", *m.TR)
	}
	momentType, summary := "", ""
	hype, risk := 0, 0
	if m.Analysis != nil {
		momentType = string(m.Analysis.MomentType)
		summary = m.Analysis.Summary
		hype = m.Analysis.Scores.Hype
		risk = m.Analysis.Scores.Risk
	}
	shareCard := ""
	if m.ShareCard != nil {
		shareCard = *m.ShareCard
	}

	return []interface{}{
		m.MomentID,
		m.StreamID,
		string(m.State),
		m.T0,
		tr,
		momentType,
		summary,
		hype,
		risk,
		formatRecipe(m.Recipe),
		m.Approval,
		shareCard,
		m.CreatedAt.UTC().Format(time.RFC3339),
		m.Reason,
	}
}

// formatRecipe 配方的人可读形式，如 "reaction_lead[26.0,32.0) play[4.0,14.0)"
func formatRecipe(recipe []models.RecipeSegment) string {
	parts := make([]string, 0, len(recipe))
	for _, seg := range recipe {
		parts = append(parts, fmt.Sprintf("%s[%.1f,%.1f)", seg.Label, seg.StartS, seg.EndS))
	}
	return strings.Join(parts, " ")
}
