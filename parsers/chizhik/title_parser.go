// Package chizhik нормализует товарные наблюдения сети "Чижик".
// Заголовки не имеют строгой пунктуации: упаковочные токены (мультипак,
// вес/объем, штучность) вырезаются из названия, бренд ищется по
// хвостовым токенам после головного существительного.
package chizhik

import (
	"strings"
	"unicode"

	"converter/core"
	"converter/normalization"
	"converter/parsers/titlerules"
)

// TitleParser разбирает заголовки "Чижика"
type TitleParser struct {
	normalizer normalization.TextNormalizer
}

// NewTitleParser создает парсер заголовков с инжектированным нормализатором текста
func NewTitleParser(normalizer normalization.TextNormalizer) *TitleParser {
	return &TitleParser{normalizer: normalizer}
}

// Parse разбирает заголовок в результат нормализации
func (p *TitleParser) Parse(title string) core.TitleNormalizationResult {
	raw := strings.TrimSpace(title)
	nameOriginal := titlerules.StripPackTokens(raw)
	brand := extractBrand(nameOriginal)

	availableCount, packageQuantity, packageUnit := titlerules.ExtractMultipack(raw)
	if availableCount == nil {
		availableCount = titlerules.ExtractPieceCount(raw)
	}
	if packageQuantity == nil && packageUnit == "" {
		packageQuantity, packageUnit = titlerules.ExtractPackage(raw)
	}

	unit := core.UnitPiece
	switch {
	case titlerules.ByWeightRe.MatchString(raw):
		unit = core.UnitKilo
		availableCount = nil
		packageQuantity, packageUnit = nil, ""
	case titlerules.ByVolumeRe.MatchString(raw):
		unit = core.UnitLitre
		availableCount = nil
		packageQuantity, packageUnit = nil, ""
	}

	nameForNormalization := nameOriginal
	if brand != "" && !strings.Contains(strings.ToLower(nameOriginal), strings.ToLower(brand)) {
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

// extractBrand собирает бренд из 1..3 хвостовых токенов после головного
// существительного: подряд идущие латинские, ПРОПИСНЫЕ или Заглавные
// слова; первый токен с цифрой обрывает поиск.
func extractBrand(namePart string) string {
	var words []string
	for _, token := range strings.Fields(namePart) {
		if trimmed := strings.Trim(token, ".,;:()[]{}\"'«»"); trimmed != "" {
			words = append(words, trimmed)
		}
	}
	if len(words) < 2 {
		return ""
	}

	var candidates []string
	for _, token := range words[1:] {
		if strings.ContainsFunc(token, unicode.IsDigit) {
			break
		}
		if isLatinWord(token) || isUppercaseWord(token) || isTitleCaseWord(token) {
			candidates = append(candidates, token)
			continue
		}
		break
	}

	if len(candidates) == 0 {
		return ""
	}
	if len(candidates) > 3 {
		candidates = candidates[:3]
	}
	return strings.Join(candidates, " ")
}

func isLatinWord(word string) bool {
	for _, r := range word {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' {
			return true
		}
	}
	return false
}

func isUppercaseWord(word string) bool {
	hasLetter := false
	for _, r := range word {
		if !unicode.IsLetter(r) {
			continue
		}
		hasLetter = true
		if r != unicode.ToUpper(r) {
			return false
		}
	}
	return hasLetter
}

func isTitleCaseWord(word string) bool {
	for _, r := range word {
		if unicode.IsLetter(r) {
			return r == unicode.ToUpper(r)
		}
	}
	return false
}
