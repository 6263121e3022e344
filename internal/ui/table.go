package ui

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// FileTableItem represents a file in the table
type FileTableItem struct {
	Index int
	Name  string
	Size  int64
	Type  string
}

func styledTable(headers []string, rows [][]string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})
}

func FileTableView(items []FileTableItem) string {
	if len(items) == 0 {
		return MutedStyle.Render("No files")
	}

	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			strconv.Itoa(item.Index),
			Truncate(item.Name, 50),
			FormatSize(item.Size),
			Truncate(item.Type, 24),
		})
	}
	return styledTable([]string{"#", "Name", "Size", "Type"}, rows).Render()
}

func RenderFileTable(items []FileTableItem) {
	fmt.Fprintln(Output, FileTableView(items))
}

type TransferSummary struct {
	Status    string
	Files     int
	TotalSize int64
	Duration  string
	Speed     string
}

func TransferSummaryView(summary TransferSummary) string {
	rows := [][]string{
		{"Status", summary.Status},
		{"Files", strconv.Itoa(summary.Files)},
		{"Total Size", FormatSize(summary.TotalSize)},
		{"Duration", summary.Duration},
		{"Avg Speed", summary.Speed},
	}
	return styledTable([]string{"Metric", "Value"}, rows).Render()
}

func RenderTransferSummary(summary TransferSummary) {
	fmt.Fprintln(Output, TransferSummaryView(summary))
}

func RoomInfoView(roomID, roomLink string) string {
	content := fmt.Sprintf("%s Room Created!\n\n%s Room ID:    %s\n%s Room Link:  %s",
		IconSuccess,
		IconCopy, BoldStyle.Foreground(Primary).Render(roomID),
		IconWeb, MutedStyle.Render(roomLink),
	)
	return RoomBoxStyle.Render(content)
}

func RenderRoomInfo(roomID, roomLink string) {
	fmt.Fprintln(Output, RoomInfoView(roomID, roomLink))
}
