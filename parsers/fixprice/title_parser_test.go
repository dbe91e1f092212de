package fixprice

import (
	"math"
	"testing"

	"converter/core"
	"converter/normalization"
)

func newParser() *TitleParser {
	return NewTitleParser(normalization.NewRussianTextNormalizer())
}

func TestTitleParser_GelPenWithBrand(t *testing.T) {
	result := newParser().Parse(`Ручка гелевая "Помада", With Love, 10х1,5 см, в ассортименте`)

	if result.NameOriginal != `Ручка гелевая "Помада"` {
		t.Errorf("NameOriginal = %q, want %q", result.NameOriginal, `Ручка гелевая "Помада"`)
	}
	if result.Brand != "With Love" {
		t.Errorf("Brand = %q, want %q", result.Brand, "With Love")
	}
	if result.Unit != core.UnitPiece {
		t.Errorf("Unit = %q, want PCE", result.Unit)
	}
	if result.OriginalNameNoStopwords != "ручка гелевая помада" {
		t.Errorf("OriginalNameNoStopwords = %q, want %q", result.OriginalNameNoStopwords, "ручка гелевая помада")
	}
	if result.AvailableCount != nil {
		t.Errorf("AvailableCount = %v, want nil", *result.AvailableCount)
	}
	if result.PackageQuantity != nil || result.PackageUnit != "" {
		t.Errorf("package pair = (%v, %q), want empty", result.PackageQuantity, result.PackageUnit)
	}
}

func TestTitleParser_PackageAndCount(t *testing.T) {
	result := newParser().Parse("Шоколад молочный, 200 г, 15 шт, в ассортименте")

	if result.Unit != core.UnitPiece {
		t.Errorf("Unit = %q, want PCE", result.Unit)
	}
	if result.AvailableCount == nil || *result.AvailableCount != 15.0 {
		t.Errorf("AvailableCount = %v, want 15", result.AvailableCount)
	}
	if result.PackageUnit != core.PackageKilo {
		t.Errorf("PackageUnit = %q, want KGM", result.PackageUnit)
	}
	if result.PackageQuantity == nil || math.Abs(*result.PackageQuantity-0.2) > 1e-9 {
		t.Errorf("PackageQuantity = %v, want 0.2", result.PackageQuantity)
	}
}

func TestTitleParser_Multipack(t *testing.T) {
	result := newParser().Parse("Салфетки влажные, 25х2г")

	if result.AvailableCount == nil || *result.AvailableCount != 25.0 {
		t.Errorf("AvailableCount = %v, want 25", result.AvailableCount)
	}
	if result.PackageQuantity == nil || math.Abs(*result.PackageQuantity-0.002) > 1e-9 {
		t.Errorf("PackageQuantity = %v, want 0.002", result.PackageQuantity)
	}
	if result.PackageUnit != core.PackageKilo {
		t.Errorf("PackageUnit = %q, want KGM", result.PackageUnit)
	}
}

func TestTitleParser_ByWeight(t *testing.T) {
	result := newParser().Parse("Сыр Российский весовой, 300 г")

	if result.Unit != core.UnitKilo {
		t.Errorf("Unit = %q, want KGM", result.Unit)
	}
	if result.AvailableCount != nil {
		t.Errorf("AvailableCount = %v, want nil", *result.AvailableCount)
	}
	if result.PackageQuantity != nil || result.PackageUnit != "" {
		t.Errorf("package pair = (%v, %q), want empty", result.PackageQuantity, result.PackageUnit)
	}
}

func TestTitleParser_ByVolume(t *testing.T) {
	result := newParser().Parse("Квас на розлив, 1 л")

	if result.Unit != core.UnitLitre {
		t.Errorf("Unit = %q, want LTR", result.Unit)
	}
	if result.PackageQuantity != nil || result.PackageUnit != "" {
		t.Errorf("package pair = (%v, %q), want empty", result.PackageQuantity, result.PackageUnit)
	}
}

func TestTitleParser_BrandRejectsNumericSegment(t *testing.T) {
	tests := []struct {
		name  string
		title string
	}{
		{"Сегмент с весом", "Шоколад молочный, 200 г"},
		{"Сегмент с габаритами", "Полка настенная, 30х20 см"},
		{"Одиночный сегмент", "Шоколад молочный"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := newParser().Parse(tt.title); result.Brand != "" {
				t.Errorf("Brand = %q, want empty", result.Brand)
			}
		})
	}
}

func TestHandler_Normalization(t *testing.T) {
	handler := NewHandler(normalization.NewRussianTextNormalizer())

	if got := handler.NormalizeCategory("Напитки и соки"); got != "напитки" {
		t.Errorf("NormalizeCategory = %q, want %q", got, "напитки")
	}
	if got := handler.NormalizeGeo("Российская Федерация"); got != "россия" {
		t.Errorf("NormalizeGeo = %q, want %q", got, "россия")
	}
	if got := handler.NormalizeComposition("Сахар,какао ,  молоко"); got != "сахар, какао, молоко" {
		t.Errorf("NormalizeComposition = %q, want %q", got, "сахар, какао, молоко")
	}
}
