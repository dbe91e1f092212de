package core

import (
	"strings"
	"time"
)

// Unit единица измерения товара (PCE/KGM/LTR)
type Unit string

// PackageUnit единица измерения упаковки (KGM/LTR)
type PackageUnit string

const (
	UnitPiece  Unit = "PCE"
	UnitKilo   Unit = "KGM"
	UnitLitre  Unit = "LTR"

	PackageKilo  PackageUnit = "KGM"
	PackageLitre PackageUnit = "LTR"
)

// ParseUnit приводит произвольный токен к известной единице измерения.
// Неизвестные значения игнорируются (возвращается пустая единица).
func ParseUnit(value string) Unit {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "PCE":
		return UnitPiece
	case "KGM":
		return UnitKilo
	case "LTR":
		return UnitLitre
	}
	return ""
}

// ParsePackageUnit приводит произвольный токен к единице упаковки.
func ParsePackageUnit(value string) PackageUnit {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "KGM":
		return PackageKilo
	case "LTR":
		return PackageLitre
	}
	return ""
}

// RawProductRecord сырое наблюдение товара из receiver-БД
type RawProductRecord struct {
	ParserName string
	Title      string

	SourceID string
	PLU      string
	SKU      string
	Brand    string

	Unit            Unit
	AvailableCount  *float64
	PackageQuantity *float64
	PackageUnit     PackageUnit

	Category    string
	Geo         string
	Composition string

	ImageURLs  []string
	ObservedAt time.Time
	Payload    map[string]any
}

// TitleNormalizationResult результат разбора заголовка товара
type TitleNormalizationResult struct {
	RawTitle string

	NameOriginal string
	Brand        string

	NameNormalized            string
	OriginalNameNoStopwords   string
	NormalizedNameNoStopwords string

	Unit            Unit
	AvailableCount  *float64
	PackageQuantity *float64
	PackageUnit     PackageUnit
}

// NormalizedProductRecord нормализованное наблюдение, готовое к записи в каталог
type NormalizedProductRecord struct {
	ParserName string

	RawTitle                   string
	TitleOriginal              string
	TitleNormalized            string
	TitleOriginalNoStopwords   string
	TitleNormalizedNoStopwords string
	Brand                      string

	Unit            Unit
	AvailableCount  *float64
	PackageQuantity *float64
	PackageUnit     PackageUnit

	SourceID           string
	PLU                string
	SKU                string
	CanonicalProductID string

	CategoryRaw        string
	CategoryNormalized string

	GeoRaw        string
	GeoNormalized string

	CompositionRaw        string
	CompositionNormalized string

	ImageURLs          []string
	DuplicateImageURLs []string
	ImageFingerprints  []string

	ObservedAt time.Time
	RawPayload map[string]any
}

// IdentityCandidate пара (тип идентификатора, значение) для резолвинга каноничного ID
type IdentityCandidate struct {
	Type  string
	Value string
}

// IdentityCandidates возвращает непустые идентификаторы записи в порядке приоритета:
// plu -> sku -> source_id.
func (r *NormalizedProductRecord) IdentityCandidates() []IdentityCandidate {
	var out []IdentityCandidate
	for _, candidate := range []IdentityCandidate{
		{Type: "plu", Value: strings.TrimSpace(r.PLU)},
		{Type: "sku", Value: strings.TrimSpace(r.SKU)},
		{Type: "source_id", Value: strings.TrimSpace(r.SourceID)},
	} {
		if candidate.Value != "" {
			out = append(out, candidate)
		}
	}
	return out
}

// Float64 возвращает указатель на значение (для опциональных числовых полей записей).
func Float64(v float64) *float64 {
	return &v
}

// UTC переводит время в UTC; нулевое время заменяется текущим.
func UTC(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
