package export

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdamLam-AI/TaobaoLens/internal/analysis"
	"github.com/AdamLam-AI/TaobaoLens/internal/pipeline"
	"github.com/xuri/excelize/v2"
)

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 60, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 60; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 80, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func successItem(id, title string, preview []byte) pipeline.ItemView {
	return pipeline.ItemView{
		ID:      id,
		Status:  pipeline.StatusSuccess,
		Preview: preview,
		Result: &analysis.ProductAnalysis{
			ProductName: "Ceramic Mug",
			Category:    "Home & Kitchen",
			SubCategory: "Drinkware",
			GoldenTitle: title,
			Attributes: map[string]string{
				"Color":    "White",
				"Material": "Ceramic",
				"Shape":    "Round",
				"Feature":  "N/A",
				"Style":    "Minimalist",
			},
		},
	}
}

func TestWorkbookContainsOnlySuccessItems(t *testing.T) {
	preview := testJPEG(t)
	items := []pipeline.ItemView{
		successItem("a", "极简 白色 圆形 陶瓷 马克杯", preview),
		{ID: "b", Status: pipeline.StatusError, ErrorDetail: "separation failed"},
		successItem("c", "复古 方形 玻璃 带盖 水杯", preview),
	}

	data, err := Workbook(items)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Taobao_Sourcing")
	require.NoError(t, err)
	// Header plus two success rows, the failed item is excluded.
	require.Len(t, rows, 3)

	assert.Equal(t, "ID", rows[0][0])
	assert.Equal(t, "Golden Title", rows[0][2])
	assert.Equal(t, "Link", rows[0][11])

	v, err := f.GetCellValue("Taobao_Sourcing", "A2")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	v, err = f.GetCellValue("Taobao_Sourcing", "A3")
	require.NoError(t, err)
	assert.Equal(t, "2", v)

	v, err = f.GetCellValue("Taobao_Sourcing", "C2")
	require.NoError(t, err)
	assert.Equal(t, "极简 白色 圆形 陶瓷 马克杯", v)

	// "N/A" attribute values are blanked out.
	v, err = f.GetCellValue("Taobao_Sourcing", "H2")
	require.NoError(t, err)
	assert.Empty(t, v)

	v, err = f.GetCellValue("Taobao_Sourcing", "G2")
	require.NoError(t, err)
	assert.Equal(t, "White", v)
}

func TestWorkbookHyperlink(t *testing.T) {
	title := "极简 白色 圆形 陶瓷 马克杯"
	data, err := Workbook([]pipeline.ItemView{successItem("a", title, testJPEG(t))})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	ok, target, err := f.GetCellHyperLink("Taobao_Sourcing", "L2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, fmt.Sprintf("https://s.taobao.com/search?q=%s", url.QueryEscape(title)), target)
}

func TestWorkbookEmptyCollection(t *testing.T) {
	data, err := Workbook(nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Taobao_Sourcing")
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestSearchURL(t *testing.T) {
	assert.Equal(t,
		"https://s.taobao.com/search?q=%E9%99%B6%E7%93%B7+%E6%9D%AF%E5%AD%90",
		SearchURL("陶瓷 杯子"))
}

func TestFilename(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "Taobao_Sourcing_Export_2026-03-14.xlsx", Filename(now))
}
