// Package normalization содержит общий текстовый нормализатор для
// заголовков и категорий товаров: очистка, токенизация, лемматизация
// и удаление стоп-слов. Нормализатор безопасен для конкурентного
// использования из нескольких горутин.
package normalization

import (
	"regexp"
	"strings"

	"github.com/kljensen/snowball/russian"
)

var (
	// Явные границы вместо \b: в RE2 \b не срабатывает рядом с кириллицей.
	assortRe     = regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])в\s+ассортименте(?:$|[^\p{L}\p{N}])`)
	quoteRe      = regexp.MustCompile(`["“”«»]`)
	nonWordRe    = regexp.MustCompile(`[^\p{L}\p{N}_\s.,xх×-]+`)
	multispaceRe = regexp.MustCompile(`\s+`)
	tokenRe      = regexp.MustCompile(`(?i)^[a-zа-я0-9-]+$`)
	cyrillicRe   = regexp.MustCompile(`(?i)[а-я]`)
	latinRe      = regexp.MustCompile(`(?i)[a-z]`)
)

// latinToCyrillic перевод визуально неотличимых латинских букв в кириллицу.
// Применяется только к токенам, где латиница и кириллица смешаны.
var latinToCyrillic = map[rune]rune{
	'a': 'а',
	'b': 'в',
	'c': 'с',
	'e': 'е',
	'h': 'н',
	'k': 'к',
	'm': 'м',
	'o': 'о',
	'p': 'р',
	't': 'т',
	'x': 'х',
	'y': 'у',
}

// noLemmatizeTokens единицы измерения, которые сохраняются дословно
// и не проходят лемматизацию.
var noLemmatizeTokens = map[string]bool{
	"см":  true,
	"мм":  true,
	"м":   true,
	"км":  true,
	"г":   true,
	"кг":  true,
	"мг":  true,
	"л":   true,
	"мл":  true,
	"шт":  true,
	"вт":  true,
	"квт": true,
}

// defaultStopwords связки и упаковочно-ассортиментные слова,
// отбрасываемые при построении поисковых форм заголовка.
var defaultStopwords = map[string]bool{
	"в": true, "на": true, "для": true, "и": true, "с": true, "со": true,
	"по": true, "из": true, "к": true, "от": true, "при": true, "под": true,
	"над": true, "без": true, "про": true, "за": true, "у": true, "о": true,
	"об": true, "обо": true, "это": true, "эта": true, "этот": true, "эти": true,
	"ассортимент": true, "ассорти": true,
	"уп": true, "уп.": true, "упаковка": true, "упаковки": true,
}

// TextNormalizer контракт текстовой нормализации, инжектируемый в обработчики.
// Lemmatize возвращает стабильную каноничную форму, RemoveStopwords идемпотентна;
// обе сохраняют единицы измерения (см, мм, г, кг, л, мл, шт) дословно.
type TextNormalizer interface {
	CleanText(text string) string
	Tokenize(text string) []string
	Lemmatize(text string) string
	RemoveStopwords(text string) string
}

// RussianTextNormalizer нормализатор русскоязычных товарных наименований.
// Лемматизация выполняется стеммером Snowball для русского языка;
// латинские токены и единицы измерения не изменяются.
type RussianTextNormalizer struct {
	stopwords map[string]bool
}

// NewRussianTextNormalizer создает нормализатор со встроенным списком стоп-слов
func NewRussianTextNormalizer(extraStopwords ...string) *RussianTextNormalizer {
	stopwords := make(map[string]bool, len(defaultStopwords)+len(extraStopwords))
	for word := range defaultStopwords {
		stopwords[word] = true
	}
	for _, word := range extraStopwords {
		word = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(word)), "ё", "е")
		if word != "" {
			stopwords[word] = true
		}
	}
	return &RussianTextNormalizer{stopwords: stopwords}
}

// CleanText очищает текст: нижний регистр, ё->е, разведение кириллицы и
// латиницы в смешанных токенах, удаление кавычек и пунктуации
// (кроме .,-x×), схлопывание пробелов.
func (n *RussianTextNormalizer) CleanText(text string) string {
	cleaned := strings.ToLower(strings.TrimSpace(text))
	cleaned = strings.ReplaceAll(cleaned, "ё", "е")
	cleaned = strings.ReplaceAll(cleaned, "×", "x")
	cleaned = remapMixedTokens(cleaned)
	cleaned = quoteRe.ReplaceAllString(cleaned, "")
	cleaned = nonWordRe.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(multispaceRe.ReplaceAllString(cleaned, " "))
}

// Tokenize возвращает словарные токены очищенного текста
func (n *RussianTextNormalizer) Tokenize(text string) []string {
	var out []string
	for _, field := range strings.Fields(n.CleanText(text)) {
		word := strings.Trim(field, ".,")
		if word == "" || !tokenRe.MatchString(word) {
			continue
		}
		out = append(out, word)
	}
	return out
}

// Lemmatize приводит каждый кириллический токен к каноничной форме.
// Единицы измерения и латинские токены сохраняются дословно.
func (n *RussianTextNormalizer) Lemmatize(text string) string {
	tokens := n.Tokenize(text)
	if len(tokens) == 0 {
		return ""
	}

	lemmas := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if noLemmatizeTokens[token] || !cyrillicRe.MatchString(token) {
			lemmas = append(lemmas, token)
			continue
		}
		lemmas = append(lemmas, russian.Stem(token, false))
	}
	return strings.Join(lemmas, " ")
}

// RemoveStopwords отбрасывает стоп-слова и оборот "в ассортименте".
// Операция идемпотентна.
func (n *RussianTextNormalizer) RemoveStopwords(text string) string {
	cleaned := assortRe.ReplaceAllString(n.CleanText(text), " ")

	var filtered []string
	for _, token := range n.Tokenize(cleaned) {
		if n.stopwords[token] {
			continue
		}
		filtered = append(filtered, token)
	}
	return strings.Join(filtered, " ")
}

// remapMixedTokens переводит латинские буквы-двойники в кириллицу внутри
// токенов, где алфавиты смешаны. Чисто латинские токены не трогаются.
func remapMixedTokens(text string) string {
	fields := strings.Split(text, " ")
	for i, field := range fields {
		if !cyrillicRe.MatchString(field) || !latinRe.MatchString(field) {
			continue
		}
		fields[i] = strings.Map(func(r rune) rune {
			if mapped, ok := latinToCyrillic[r]; ok {
				return mapped
			}
			return r
		}, field)
	}
	return strings.Join(fields, " ")
}
