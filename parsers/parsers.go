// Package parsers собирает встроенный набор обработчиков источников.
package parsers

import (
	"converter/core"
	"converter/normalization"
	"converter/parsers/chizhik"
	"converter/parsers/fixprice"
	"converter/parsers/perekrestok"
)

// RegisterBuiltin регистрирует встроенные обработчики (fixprice, chizhik,
// perekrestok) поверх одного общего текстового нормализатора.
// Нормализатор дорог в инициализации и безопасен для горутин, поэтому
// разделяется всеми обработчиками процесса.
func RegisterBuiltin(registry *core.HandlerRegistry, normalizer normalization.TextNormalizer) {
	registry.MustRegister(fixprice.NewHandler(normalizer))
	registry.MustRegister(chizhik.NewHandler(normalizer))
	registry.MustRegister(perekrestok.NewHandler(normalizer))
}

// NewBuiltinRegistry создает реестр со встроенным набором обработчиков
func NewBuiltinRegistry() *core.HandlerRegistry {
	registry := core.NewHandlerRegistry()
	RegisterBuiltin(registry, normalization.NewRussianTextNormalizer())
	return registry
}
