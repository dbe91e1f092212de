// Package titlerules содержит общие правила извлечения числовых
// характеристик из товарных заголовков: вес/объем упаковки, мультипак,
// штучное количество, признаки весового и разливного товара.
package titlerules

import (
	"regexp"
	"strconv"
	"strings"

	"converter/core"
)

// Границы слов задаются явными классами (не-буква/не-цифра по краям):
// \b в RE2 учитывает только ASCII и не срабатывает рядом с кириллицей.
var (
	// AssortRe оборот "в ассортименте": вырезается до числового разбора
	AssortRe = regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])в\s+ассортименте(?:$|[^\p{L}\p{N}])`)

	// DimRe габариты вида 10х1,5 см (не являются упаковкой)
	DimRe = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*[xх×]\s*(\d+(?:[.,]\d+)?)(?:\s*[xх×]\s*(\d+(?:[.,]\d+)?))?\s*см(?:$|[^\p{L}\p{N}])`)

	// PackageRe одиночный вес/объем: 200 г, 1.5л, 950 мл
	PackageRe = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(г|кг|мл|л|l)(?:$|[^\p{L}\p{N}])`)

	// MultipackRe мультипак: 25х2г, 6 x 0.33 л
	MultipackRe = regexp.MustCompile(`(?i)(\d+)\s*[xх×]\s*(\d+(?:[.,]\d+)?)\s*(г|кг|мл|л|l)(?:$|[^\p{L}\p{N}])`)

	// PieceCountRe явное штучное количество: 15 шт
	PieceCountRe = regexp.MustCompile(`(?i)(\d+)\s*(?:шт|штук)(?:$|[^\p{L}\p{N}])`)

	// ByWeightRe весовой товар: "на вес", "весовой"
	ByWeightRe = regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])(весов(?:ой|ая|ые)?|на\s+вес)(?:$|[^\p{L}\p{N}])`)

	// ByVolumeRe разливной товар: "на розлив", "розлив", "разлив"
	ByVolumeRe = regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])(на\s+розлив|розлив|разлив)(?:$|[^\p{L}\p{N}])`)

	multispaceRe = regexp.MustCompile(`\s+`)
	integerRe    = regexp.MustCompile(`\b\d+\b`)
)

// ToFloat разбирает число с запятой или точкой в качестве разделителя
func ToFloat(value string) float64 {
	parsed, _ := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(value, ",", ".")), 64)
	return parsed
}

// ToPackage переводит количество и текстовую единицу в пару
// (package_quantity, package_unit); граммы и миллилитры приводятся
// к килограммам и литрам.
func ToPackage(quantityRaw, unitRaw string) (*float64, core.PackageUnit) {
	quantity := ToFloat(quantityRaw)
	switch strings.ToLower(unitRaw) {
	case "г":
		return core.Float64(quantity / 1000.0), core.PackageKilo
	case "кг":
		return core.Float64(quantity), core.PackageKilo
	case "мл":
		return core.Float64(quantity / 1000.0), core.PackageLitre
	case "л", "l":
		return core.Float64(quantity), core.PackageLitre
	}
	return nil, ""
}

// ExtractMultipack извлекает последний мультипак-токен <count> x <q> <u>.
// Возвращает количество и пару упаковки или nil-значения, если токена нет.
func ExtractMultipack(title string) (*float64, *float64, core.PackageUnit) {
	matches := MultipackRe.FindAllStringSubmatch(title, -1)
	if len(matches) == 0 {
		return nil, nil, ""
	}

	match := matches[len(matches)-1]
	count, _ := strconv.Atoi(match[1])
	quantity, unit := ToPackage(match[2], match[3])
	return core.Float64(float64(count)), quantity, unit
}

// ExtractPackage извлекает последний одиночный вес/объем
func ExtractPackage(title string) (*float64, core.PackageUnit) {
	matches := PackageRe.FindAllStringSubmatch(title, -1)
	if len(matches) == 0 {
		return nil, ""
	}
	match := matches[len(matches)-1]
	return ToPackage(match[1], match[2])
}

// ExtractPieceCount извлекает последнее явное штучное количество "<n> шт"
func ExtractPieceCount(title string) *float64 {
	matches := PieceCountRe.FindAllStringSubmatch(title, -1)
	if len(matches) == 0 {
		return nil
	}
	count, _ := strconv.Atoi(matches[len(matches)-1][1])
	return core.Float64(float64(count))
}

// ExtractPlausibleCount эвристика количества по очищенному заголовку:
// габариты, вес/объем и ассортиментный оборот вырезаются, из оставшихся
// целых чисел берется последнее правдоподобное (2..200); единственное
// число 1..200 тоже принимается.
func ExtractPlausibleCount(title string) *float64 {
	scrubbed := DimRe.ReplaceAllString(title, " ")
	scrubbed = MultipackRe.ReplaceAllString(scrubbed, " ")
	scrubbed = PackageRe.ReplaceAllString(scrubbed, " ")
	scrubbed = AssortRe.ReplaceAllString(scrubbed, " ")

	var numbers []int
	for _, token := range integerRe.FindAllString(scrubbed, -1) {
		if parsed, err := strconv.Atoi(token); err == nil {
			numbers = append(numbers, parsed)
		}
	}
	if len(numbers) == 0 {
		return nil
	}

	var plausible []int
	for _, num := range numbers {
		if num >= 2 && num <= 200 {
			plausible = append(plausible, num)
		}
	}
	if len(plausible) > 0 {
		return core.Float64(float64(plausible[len(plausible)-1]))
	}
	if len(numbers) == 1 && numbers[0] >= 1 && numbers[0] <= 200 {
		return core.Float64(float64(numbers[0]))
	}
	return nil
}

// StripPackTokens вырезает из заголовка упаковочные токены
// (мультипак, вес/объем, штучность) и схлопывает пробелы.
func StripPackTokens(title string) string {
	value := MultipackRe.ReplaceAllString(title, " ")
	value = PackageRe.ReplaceAllString(value, " ")
	value = PieceCountRe.ReplaceAllString(value, " ")
	value = strings.Trim(multispaceRe.ReplaceAllString(value, " "), " ,.;:-")
	if value == "" {
		return strings.TrimSpace(title)
	}
	return value
}
