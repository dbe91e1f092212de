// Package fixprice нормализует товарные наблюдения сети FixPrice.
// Заголовки FixPrice построены на запятых: первый сегмент — название,
// второй часто содержит бренд, дальше идут габариты и ассортиментные
// обороты.
package fixprice

import (
	"regexp"
	"strings"

	"converter/core"
	"converter/normalization"
	"converter/parsers/titlerules"
)

var digitRe = regexp.MustCompile(`\b\d+\b`)

// TitleParser разбирает заголовки FixPrice
type TitleParser struct {
	normalizer normalization.TextNormalizer
}

// NewTitleParser создает парсер заголовков с инжектированным нормализатором текста
func NewTitleParser(normalizer normalization.TextNormalizer) *TitleParser {
	return &TitleParser{normalizer: normalizer}
}

// Parse разбирает заголовок FixPrice в результат нормализации
func (p *TitleParser) Parse(title string) core.TitleNormalizationResult {
	raw := strings.TrimSpace(title)
	parts := splitByCommas(raw)

	nameOriginal := raw
	if len(parts) > 0 {
		nameOriginal = parts[0]
	}
	brand := p.guessBrand(parts)

	withoutAssort := strings.Trim(titlerules.AssortRe.ReplaceAllString(raw, ""), " ,")

	availableCount, packageQuantity, packageUnit := titlerules.ExtractMultipack(withoutAssort)
	if packageQuantity == nil && packageUnit == "" {
		packageQuantity, packageUnit = titlerules.ExtractPackage(withoutAssort)
	}
	if availableCount == nil {
		availableCount = titlerules.ExtractPieceCount(withoutAssort)
	}
	if availableCount == nil {
		availableCount = titlerules.ExtractPlausibleCount(withoutAssort)
	}

	unit := core.UnitPiece
	switch {
	case titlerules.ByWeightRe.MatchString(withoutAssort):
		unit = core.UnitKilo
		availableCount = nil
		packageQuantity, packageUnit = nil, ""
	case titlerules.ByVolumeRe.MatchString(withoutAssort):
		unit = core.UnitLitre
		availableCount = nil
		packageQuantity, packageUnit = nil, ""
	}

	nameForNormalization := nameOriginal
	if brand != "" {
		nameForNormalization = nameOriginal + " " + brand
	}
	nameNormalized := p.normalizer.Lemmatize(nameForNormalization)

	return core.TitleNormalizationResult{
		RawTitle:                  raw,
		NameOriginal:              nameOriginal,
		Brand:                     brand,
		NameNormalized:            nameNormalized,
		OriginalNameNoStopwords:   p.normalizer.RemoveStopwords(nameOriginal),
		NormalizedNameNoStopwords: p.normalizer.RemoveStopwords(nameNormalized),
		Unit:                      unit,
		AvailableCount:            availableCount,
		PackageQuantity:           packageQuantity,
		PackageUnit:               packageUnit,
	}
}

// guessBrand берет второй сегмент заголовка как бренд, если он не
// содержит чисел, габаритов или веса/объема и длиннее одного символа.
func (p *TitleParser) guessBrand(parts []string) string {
	if len(parts) < 2 {
		return ""
	}

	candidate := parts[1]
	if titlerules.DimRe.MatchString(candidate) || titlerules.PackageRe.MatchString(candidate) || digitRe.MatchString(candidate) {
		return ""
	}
	if len([]rune(p.normalizer.CleanText(candidate))) < 2 {
		return ""
	}
	return candidate
}

func splitByCommas(title string) []string {
	withoutAssort := strings.Trim(titlerules.AssortRe.ReplaceAllString(title, ""), " ,")

	var parts []string
	for _, part := range strings.Split(withoutAssort, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
