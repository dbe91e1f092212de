package chizhik

import (
	"converter/core"
	"converter/normalization"
)

// Handler обработчик наблюдений "Чижика"
type Handler struct {
	normalizer  normalization.TextNormalizer
	titleParser *TitleParser
}

// NewHandler создает обработчик поверх текстового нормализатора
func NewHandler(normalizer normalization.TextNormalizer) *Handler {
	return &Handler{
		normalizer:  normalizer,
		titleParser: NewTitleParser(normalizer),
	}
}

// ParserName имя парсера в реестре
func (h *Handler) ParserName() string { return "chizhik" }

// NormalizeTitle разбирает заголовок "Чижика"
func (h *Handler) NormalizeTitle(title string) core.TitleNormalizationResult {
	return h.titleParser.Parse(title)
}

// NormalizeCategory лемматизирует путь категории и отбрасывает стоп-слова
func (h *Handler) NormalizeCategory(category string) string {
	normalized := core.NormalizeString(category)
	if normalized == "" {
		return ""
	}
	return normalization.NormalizeCategoryText(normalized, h.normalizer)
}

// NormalizeGeo базовая нормализация географии
func (h *Handler) NormalizeGeo(geo string) string {
	return core.NormalizeString(geo)
}

// NormalizeComposition базовая нормализация состава
func (h *Handler) NormalizeComposition(composition string) string {
	return core.NormalizeString(composition)
}
