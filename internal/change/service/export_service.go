package service

import (
	"context"
	"fmt"

	"github.com/brightfog/kunlun/internal/change/repository"
	"github.com/xuri/excelize/v2"
)

var crExportHeaders = []string{
	"序号", "材料名称", "品牌", "规格", "单位", "数量", "单价", "金额", "目录内", "预选供应商", "子采购单",
}

// ExportService 变更请求快照导出
type ExportService struct {
	repos *repository.Repositories
}

func NewExportService(repos *repository.Repositories) *ExportService {
	return &ExportService{repos: repos}
}

// ExportCR 导出变更请求xlsx快照
func (s *ExportService) ExportCR(ctx context.Context, id string) (*excelize.File, string, error) {
	cr, err := s.repos.CR.FindByID(ctx, id)
	if err != nil {
		return nil, "", err
	}

	childCodes := make(map[string]string, len(cr.Children))
	for _, child := range cr.Children {
		childCodes[child.ID] = child.POCode
	}

	f := excelize.NewFile()
	sheet := "变更请求"
	f.SetSheetName("Sheet1", sheet)

	boldStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})

	// 单头信息
	headerStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	headerData := [][]interface{}{
		{"编码", cr.Code, "状态", cr.Status},
		{"标题", cr.Title, "发起人", cr.RequesterName},
		{"变更原因", cr.Reason, "发起角色", cr.RequesterRole},
	}
	for i, row := range headerData {
		for j, v := range row {
			col, _ := excelize.ColumnNumberToName(j + 1)
			cell := fmt.Sprintf("%s%d", col, i+1)
			f.SetCellValue(sheet, cell, v)
			if j%2 == 0 {
				f.SetCellStyle(sheet, cell, cell, headerStyle)
			}
		}
	}

	// 材料行表头
	tableStart := len(headerData) + 2
	for i, h := range crExportHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := fmt.Sprintf("%s%d", col, tableStart)
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, boldStyle)
	}

	var total float64
	for rowIdx, line := range cr.Lines {
		row := tableStart + rowIdx + 1
		inCatalog := "否"
		if line.CatalogItemID != nil {
			inCatalog = "是"
		}
		vendor := ""
		if line.PreferredVendorID != nil {
			vendor = *line.PreferredVendorID
		}
		poCode := ""
		if line.POChildID != nil {
			poCode = childCodes[*line.POChildID]
		}

		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), line.SortOrder)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), line.Name)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), line.Brand)
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), line.Specification)
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), line.Unit)
		f.SetCellValue(sheet, fmt.Sprintf("F%d", row), line.Quantity)
		f.SetCellValue(sheet, fmt.Sprintf("G%d", row), line.UnitPrice)
		f.SetCellValue(sheet, fmt.Sprintf("H%d", row), line.Amount)
		f.SetCellValue(sheet, fmt.Sprintf("I%d", row), inCatalog)
		f.SetCellValue(sheet, fmt.Sprintf("J%d", row), vendor)
		f.SetCellValue(sheet, fmt.Sprintf("K%d", row), poCode)
		total += line.Amount
	}

	// 底部汇总行
	summaryRow := tableStart + len(cr.Lines) + 1
	f.SetCellValue(sheet, fmt.Sprintf("A%d", summaryRow), "汇总")
	f.SetCellValue(sheet, fmt.Sprintf("B%d", summaryRow), fmt.Sprintf("共 %d 行", len(cr.Lines)))
	f.SetCellValue(sheet, fmt.Sprintf("H%d", summaryRow), total)
	f.SetCellStyle(sheet, fmt.Sprintf("A%d", summaryRow), fmt.Sprintf("K%d", summaryRow), headerStyle)

	colWidths := []float64{6, 20, 12, 20, 6, 10, 10, 12, 8, 16, 20}
	for i, w := range colWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, col, col, w)
	}

	// 审批记录sheet
	if len(cr.Approvals) > 0 {
		approvalSheet := "审批记录"
		f.NewSheet(approvalSheet)
		approvalHeaders := []string{"审批人", "角色", "动作", "原状态", "新状态", "意见", "时间"}
		for i, h := range approvalHeaders {
			col, _ := excelize.ColumnNumberToName(i + 1)
			cell := col + "1"
			f.SetCellValue(approvalSheet, cell, h)
			f.SetCellStyle(approvalSheet, cell, cell, boldStyle)
		}
		for rowIdx, a := range cr.Approvals {
			row := rowIdx + 2
			f.SetCellValue(approvalSheet, fmt.Sprintf("A%d", row), a.ApproverName)
			f.SetCellValue(approvalSheet, fmt.Sprintf("B%d", row), a.ApproverRole)
			f.SetCellValue(approvalSheet, fmt.Sprintf("C%d", row), a.Action)
			f.SetCellValue(approvalSheet, fmt.Sprintf("D%d", row), a.FromStatus)
			f.SetCellValue(approvalSheet, fmt.Sprintf("E%d", row), a.ToStatus)
			f.SetCellValue(approvalSheet, fmt.Sprintf("F%d", row), a.Comment)
			f.SetCellValue(approvalSheet, fmt.Sprintf("G%d", row), a.CreatedAt.Format("2006-01-02 15:04:05"))
		}
	}

	filename := fmt.Sprintf("%s_%s.xlsx", cr.Code, cr.Title)
	return f, filename, nil
}
