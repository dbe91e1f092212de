package core

import (
	"regexp"
	"strings"
)

var spacesRe = regexp.MustCompile(`\s+`)

// ParserHandler нормализует сырые наблюдения одного источника.
// Реализации обязаны быть потокобезопасными: один обработчик
// используется всеми batch-задачами процесса.
type ParserHandler interface {
	ParserName() string
	NormalizeTitle(title string) TitleNormalizationResult
	NormalizeCategory(category string) string
	NormalizeGeo(geo string) string
	NormalizeComposition(composition string) string
}

// Handle собирает нормализованную запись из сырого наблюдения по общим правилам:
// бренд из заголовка приоритетнее сырого, единица измерения наоборот,
// пара (package_quantity, package_unit) применяется только целиком.
func Handle(h ParserHandler, raw RawProductRecord) NormalizedProductRecord {
	title := h.NormalizeTitle(raw.Title)

	brand := title.Brand
	if brand == "" {
		brand = strings.TrimSpace(raw.Brand)
	}

	unit := raw.Unit
	if unit == "" {
		unit = title.Unit
	}
	if unit == "" {
		unit = UnitPiece
	}

	availableCount := raw.AvailableCount
	if availableCount == nil {
		availableCount = title.AvailableCount
	}

	// Пара "количество в упаковке" + "единица упаковки" валидна только целиком.
	// Половинчатые данные источника замещаются парой из заголовка.
	packageQuantity := raw.PackageQuantity
	packageUnit := raw.PackageUnit
	if packageQuantity == nil || packageUnit == "" {
		packageQuantity = title.PackageQuantity
		packageUnit = title.PackageUnit
	}

	return NormalizedProductRecord{
		ParserName: raw.ParserName,

		RawTitle:                   title.RawTitle,
		TitleOriginal:              title.NameOriginal,
		TitleNormalized:            title.NameNormalized,
		TitleOriginalNoStopwords:   title.OriginalNameNoStopwords,
		TitleNormalizedNoStopwords: title.NormalizedNameNoStopwords,
		Brand:                      brand,

		Unit:            unit,
		AvailableCount:  availableCount,
		PackageQuantity: packageQuantity,
		PackageUnit:     packageUnit,

		SourceID: strings.TrimSpace(raw.SourceID),
		PLU:      strings.TrimSpace(raw.PLU),
		SKU:      strings.TrimSpace(raw.SKU),

		CategoryRaw:        strings.TrimSpace(raw.Category),
		CategoryNormalized: h.NormalizeCategory(raw.Category),

		GeoRaw:        strings.TrimSpace(raw.Geo),
		GeoNormalized: h.NormalizeGeo(raw.Geo),

		CompositionRaw:        strings.TrimSpace(raw.Composition),
		CompositionNormalized: h.NormalizeComposition(raw.Composition),

		ImageURLs:  append([]string(nil), raw.ImageURLs...),
		ObservedAt: UTC(raw.ObservedAt),
		RawPayload: clonePayload(raw.Payload),
	}
}

// NormalizeString базовая нормализация строковых атрибутов:
// нижний регистр, ё->е, схлопывание пробелов.
func NormalizeString(value string) string {
	cleaned := strings.ToLower(strings.TrimSpace(value))
	cleaned = strings.ReplaceAll(cleaned, "ё", "е")
	return strings.TrimSpace(spacesRe.ReplaceAllString(cleaned, " "))
}

func clonePayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}
