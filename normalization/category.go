package normalization

import (
	"regexp"
	"strings"
)

var (
	categorySeparatorsRe = regexp.MustCompile(`[/,]+`)
	categorySpacesRe     = regexp.MustCompile(`\s+`)
)

// NormalizeCategoryText приводит путь категории к поисковой форме:
// разделители заменяются пробелами, текст лемматизируется, стоп-слова
// отбрасываются. Если после удаления стоп-слов не остается токенов,
// возвращается лемматизированная форма.
func NormalizeCategoryText(value string, normalizer TextNormalizer) string {
	collapsed := categorySpacesRe.ReplaceAllString(categorySeparatorsRe.ReplaceAllString(value, " "), " ")
	collapsed = strings.TrimSpace(collapsed)
	if collapsed == "" {
		return ""
	}

	lemmatized := normalizer.Lemmatize(collapsed)
	if lemmatized == "" {
		return ""
	}

	withoutStopwords := normalizer.RemoveStopwords(lemmatized)
	if withoutStopwords == "" {
		return lemmatized
	}
	return withoutStopwords
}
