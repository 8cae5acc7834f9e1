// Package export renders finished analysis results into an xlsx
// workbook with embedded thumbnails and Taobao search links.
package export

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"

	"github.com/AdamLam-AI/TaobaoLens/internal/pipeline"
)

const (
	sheetName     = "Taobao_Sourcing"
	searchBaseURL = "https://s.taobao.com/search?q="

	rowHeight     = 80.0
	thumbWidthPx  = 100.0
	thumbHeightPx = 100.0
)

var headers = []string{
	"ID", "Photo", "Golden Title", "Product Name", "Category",
	"Sub-Category", "Color", "Feature", "Material", "Shape", "Style", "Link",
}

// SearchURL builds the Taobao search link for a golden title.
func SearchURL(goldenTitle string) string {
	return searchBaseURL + url.QueryEscape(goldenTitle)
}

// Filename returns the dated download name for an export produced now.
func Filename(now time.Time) string {
	return fmt.Sprintf("Taobao_Sourcing_Export_%s.xlsx", now.Format("2006-01-02"))
}

// Workbook writes the successful items, in collection order, into an
// xlsx workbook and returns its bytes. Items that failed analysis or
// are still in flight are left out.
func Workbook(items []pipeline.ItemView) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}
	lastCol, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := f.SetCellStyle(sheetName, "A1", lastCol, headerStyle); err != nil {
		return nil, fmt.Errorf("failed to style header: %w", err)
	}

	// Wide columns for the photo and the long text fields.
	_ = f.SetColWidth(sheetName, "B", "B", 16)
	_ = f.SetColWidth(sheetName, "C", "D", 40)
	_ = f.SetColWidth(sheetName, "E", "K", 14)
	_ = f.SetColWidth(sheetName, "L", "L", 12)

	row := 2
	exportID := 1
	for _, item := range items {
		if item.Status != pipeline.StatusSuccess || item.Result == nil {
			continue
		}
		if err := writeRow(f, row, exportID, item); err != nil {
			return nil, err
		}
		row++
		exportID++
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, row, exportID int, item pipeline.ItemView) error {
	res := item.Result

	if err := f.SetRowHeight(sheetName, row, rowHeight); err != nil {
		return fmt.Errorf("failed to set row height: %w", err)
	}

	values := []any{
		exportID,
		nil, // photo column holds the embedded picture
		res.GoldenTitle,
		res.ProductName,
		res.Category,
		res.SubCategory,
		res.Attribute("Color"),
		res.Attribute("Feature"),
		res.Attribute("Material"),
		res.Attribute("Shape"),
		res.Attribute("Style"),
		"Open Link",
	}
	for i, v := range values {
		if v == nil {
			continue
		}
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		if err := f.SetCellValue(sheetName, cell, v); err != nil {
			return fmt.Errorf("failed to write row %d: %w", row, err)
		}
	}

	linkCell, _ := excelize.CoordinatesToCellName(len(headers), row)
	if err := f.SetCellHyperLink(sheetName, linkCell, SearchURL(res.GoldenTitle), "External"); err != nil {
		return fmt.Errorf("failed to set link on row %d: %w", row, err)
	}

	if len(item.Preview) > 0 {
		if err := embedThumbnail(f, row, item.Preview); err != nil {
			// A bad preview should not sink the whole export.
			log.Warn().Err(err).Str("item_id", item.ID).Msg("skipping thumbnail")
		}
	}
	return nil
}

func embedThumbnail(f *excelize.File, row int, preview []byte) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(preview))
	if err != nil {
		return fmt.Errorf("failed to read preview dimensions: %w", err)
	}
	scaleX := thumbWidthPx / float64(cfg.Width)
	scaleY := thumbHeightPx / float64(cfg.Height)
	// Keep aspect ratio by scaling both axes uniformly.
	scale := min(scaleX, scaleY)

	cell, _ := excelize.CoordinatesToCellName(2, row)
	return f.AddPictureFromBytes(sheetName, cell, &excelize.Picture{
		Extension: ".jpg",
		File:      preview,
		Format: &excelize.GraphicOptions{
			ScaleX:  scale,
			ScaleY:  scale,
			OffsetX: 2,
			OffsetY: 2,
		},
	})
}
