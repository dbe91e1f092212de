package fixprice

import (
	"regexp"

	"converter/core"
	"converter/normalization"
)

var commaSpacesRe = regexp.MustCompile(`\s*,\s*`)

// categoryAliases выравнивание исторических названий категорий FixPrice
var categoryAliases = map[string]string{
	"напитки и соки":        "напитки",
	"канцтовары":            "канцелярия",
	"бытовая химия и уборка": "бытовая химия",
}

// Handler обработчик наблюдений FixPrice
type Handler struct {
	titleParser *TitleParser
}

// NewHandler создает обработчик FixPrice поверх текстового нормализатора
func NewHandler(normalizer normalization.TextNormalizer) *Handler {
	return &Handler{titleParser: NewTitleParser(normalizer)}
}

// ParserName имя парсера в реестре
func (h *Handler) ParserName() string { return "fixprice" }

// NormalizeTitle разбирает заголовок FixPrice
func (h *Handler) NormalizeTitle(title string) core.TitleNormalizationResult {
	return h.titleParser.Parse(title)
}

// NormalizeCategory нормализует категорию с учетом алиасов FixPrice
func (h *Handler) NormalizeCategory(category string) string {
	normalized := core.NormalizeString(category)
	if alias, ok := categoryAliases[normalized]; ok {
		return alias
	}
	return normalized
}

// NormalizeGeo нормализует географию; "российская федерация" сводится к "россия"
func (h *Handler) NormalizeGeo(geo string) string {
	normalized := core.NormalizeString(geo)
	if normalized == "российская федерация" {
		return "россия"
	}
	return normalized
}

// NormalizeComposition нормализует состав, выравнивая пробелы вокруг запятых
func (h *Handler) NormalizeComposition(composition string) string {
	normalized := core.NormalizeString(composition)
	if normalized == "" {
		return ""
	}
	return commaSpacesRe.ReplaceAllString(normalized, ", ")
}
