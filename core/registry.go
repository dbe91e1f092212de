package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// HandlerRegistry реестр обработчиков источников по имени парсера.
// Регистрация идемпотентна в рамках процесса: повторная регистрация
// того же имени является ошибкой программирования.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]ParserHandler
}

// NewHandlerRegistry создает пустой реестр обработчиков
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]ParserHandler)}
}

// Register добавляет обработчик в реестр
func (r *HandlerRegistry) Register(handler ParserHandler) error {
	name := strings.ToLower(strings.TrimSpace(handler.ParserName()))
	if name == "" {
		return fmt.Errorf("handler parser name must be non-empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("handler for parser %q already exists", name)
	}
	r.handlers[name] = handler
	return nil
}

// MustRegister регистрирует обработчик и паникует при конфликте имен.
// Используется при сборке встроенного набора парсеров на старте процесса.
func (r *HandlerRegistry) MustRegister(handler ParserHandler) {
	if err := r.Register(handler); err != nil {
		panic(err)
	}
}

// Get возвращает обработчик по имени парсера.
// Неизвестное имя — фатальная ошибка задачи: в сообщении перечислен известный набор.
func (r *HandlerRegistry) Get(parserName string) (ParserHandler, error) {
	key := strings.ToLower(strings.TrimSpace(parserName))

	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[key]
	if !ok {
		known := strings.Join(r.registeredLocked(), ", ")
		if known == "" {
			known = "<empty>"
		}
		return nil, fmt.Errorf("no handler for parser %q, known: %s", parserName, known)
	}
	return handler, nil
}

// RegisteredParsers возвращает отсортированный список зарегистрированных парсеров
func (r *HandlerRegistry) RegisteredParsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.registeredLocked()
}

func (r *HandlerRegistry) registeredLocked() []string {
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
