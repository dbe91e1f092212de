package core

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ImageDedupResult результат дедупликации изображений одной записи
type ImageDedupResult struct {
	UniqueURLs    []string
	DuplicateURLs []string
	Fingerprints  []string
}

// FingerprintURL возвращает sha256-отпечаток URL изображения.
// Отпечаток идентифицирует картинку независимо от алиасов URL.
func FingerprintURL(url string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(url)))
	return hex.EncodeToString(sum[:])
}

// InMemoryIdentityResolver резолвер каноничного ID товара без БД.
// Приоритет: parser+plu -> parser+sku -> parser+source_id -> parser+нормализованное имя.
type InMemoryIdentityResolver struct {
	mu    sync.Mutex
	index map[[3]string]string
}

// NewInMemoryIdentityResolver создает пустой резолвер
func NewInMemoryIdentityResolver() *InMemoryIdentityResolver {
	return &InMemoryIdentityResolver{index: make(map[[3]string]string)}
}

// Resolve возвращает стабильный каноничный ID для записи, создавая новый при первом появлении
func (r *InMemoryIdentityResolver) Resolve(record *NormalizedProductRecord) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	candidates := record.IdentityCandidates()
	for _, candidate := range candidates {
		if existing, ok := r.index[[3]string{record.ParserName, candidate.Type, candidate.Value}]; ok {
			return existing
		}
	}

	fallbackKey := [3]string{record.ParserName, "normalized_name", record.TitleNormalizedNoStopwords}
	if existing, ok := r.index[fallbackKey]; ok {
		for _, candidate := range candidates {
			r.index[[3]string{record.ParserName, candidate.Type, candidate.Value}] = existing
		}
		return existing
	}

	productID := uuid.NewString()
	r.index[fallbackKey] = productID
	for _, candidate := range candidates {
		r.index[[3]string{record.ParserName, candidate.Type, candidate.Value}] = productID
	}
	return productID
}

// BackfillFields набор полей, восстанавливаемых из истории наблюдений
var BackfillFields = []string{
	"brand",
	"category_normalized",
	"geo_normalized",
	"composition_normalized",
	"package_quantity",
	"package_unit",
}

// InMemoryBackfillService восполняет пустые поля записи значениями
// из темпорально ближайшего непустого наблюдения того же товара.
type InMemoryBackfillService struct {
	mu      sync.Mutex
	history map[string][]NormalizedProductRecord
}

// NewInMemoryBackfillService создает сервис с пустой историей
func NewInMemoryBackfillService() *InMemoryBackfillService {
	return &InMemoryBackfillService{history: make(map[string][]NormalizedProductRecord)}
}

// Apply восполняет пустые поля записи и добавляет ее в историю
func (s *InMemoryBackfillService) Apply(record *NormalizedProductRecord) {
	if record.CanonicalProductID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.history[record.CanonicalProductID]
	target := UTC(record.ObservedAt)

	if record.Brand == "" {
		record.Brand = nearestString(history, target, func(r *NormalizedProductRecord) string { return r.Brand })
	}
	if record.CategoryNormalized == "" {
		record.CategoryNormalized = nearestString(history, target, func(r *NormalizedProductRecord) string { return r.CategoryNormalized })
	}
	if record.GeoNormalized == "" {
		record.GeoNormalized = nearestString(history, target, func(r *NormalizedProductRecord) string { return r.GeoNormalized })
	}
	if record.CompositionNormalized == "" {
		record.CompositionNormalized = nearestString(history, target, func(r *NormalizedProductRecord) string { return r.CompositionNormalized })
	}
	if record.PackageQuantity == nil {
		record.PackageQuantity = nearestFloat(history, target, func(r *NormalizedProductRecord) *float64 { return r.PackageQuantity })
	}
	if record.PackageUnit == "" {
		if value := nearestString(history, target, func(r *NormalizedProductRecord) string { return string(r.PackageUnit) }); value != "" {
			record.PackageUnit = PackageUnit(value)
		}
	}

	s.history[record.CanonicalProductID] = append(history, *record)
	sort.SliceStable(s.history[record.CanonicalProductID], func(i, j int) bool {
		bucket := s.history[record.CanonicalProductID]
		return bucket[i].ObservedAt.Before(bucket[j].ObservedAt)
	})
}

func nearestString(history []NormalizedProductRecord, target time.Time, get func(*NormalizedProductRecord) string) string {
	var nearest string
	var nearestDelta time.Duration = -1
	for i := range history {
		value := strings.TrimSpace(get(&history[i]))
		if value == "" {
			continue
		}
		delta := absDuration(UTC(history[i].ObservedAt).Sub(target))
		if nearestDelta < 0 || delta < nearestDelta {
			nearestDelta = delta
			nearest = value
		}
	}
	return nearest
}

func nearestFloat(history []NormalizedProductRecord, target time.Time, get func(*NormalizedProductRecord) *float64) *float64 {
	var nearest *float64
	var nearestDelta time.Duration = -1
	for i := range history {
		value := get(&history[i])
		if value == nil {
			continue
		}
		delta := absDuration(UTC(history[i].ObservedAt).Sub(target))
		if nearestDelta < 0 || delta < nearestDelta {
			nearestDelta = delta
			nearest = value
		}
	}
	if nearest == nil {
		return nil
	}
	v := *nearest
	return &v
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// InMemoryImageDeduplicator хранит персистентные отпечатки изображений
// и сводит дубликаты к каноничному URL первой встречи.
type InMemoryImageDeduplicator struct {
	mu                     sync.Mutex
	canonicalByFingerprint map[string]string
}

// NewInMemoryImageDeduplicator создает дедупликатор с пустой картой отпечатков
func NewInMemoryImageDeduplicator() *InMemoryImageDeduplicator {
	return &InMemoryImageDeduplicator{canonicalByFingerprint: make(map[string]string)}
}

// Process дедуплицирует список URL изображений одной записи
func (d *InMemoryImageDeduplicator) Process(imageURLs []string) ImageDedupResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	var result ImageDedupResult
	seenInRecord := make(map[string]bool)

	for _, rawURL := range imageURLs {
		url := strings.TrimSpace(rawURL)
		if url == "" {
			continue
		}

		fingerprint := FingerprintURL(url)

		// Повтор внутри одной записи всегда считается дубликатом.
		if seenInRecord[fingerprint] {
			result.DuplicateURLs = append(result.DuplicateURLs, url)
			continue
		}

		canonicalURL, known := d.canonicalByFingerprint[fingerprint]
		if !known {
			canonicalURL = url
			d.canonicalByFingerprint[fingerprint] = url
		} else if canonicalURL != url {
			result.DuplicateURLs = append(result.DuplicateURLs, url)
		}

		seenInRecord[fingerprint] = true
		result.UniqueURLs = append(result.UniqueURLs, canonicalURL)
		result.Fingerprints = append(result.Fingerprints, fingerprint)
	}

	return result
}

// Pipeline in-memory конвейер нормализации: реестр обработчиков плюс
// резолвер идентичности, дедупликатор изображений и back-fill без БД.
// Используется в тестах и в dry-run режиме одноразовой синхронизации.
type Pipeline struct {
	registry     *HandlerRegistry
	identity     *InMemoryIdentityResolver
	backfill     *InMemoryBackfillService
	deduplicator *InMemoryImageDeduplicator
}

// NewPipeline создает конвейер поверх реестра обработчиков
func NewPipeline(registry *HandlerRegistry) *Pipeline {
	return &Pipeline{
		registry:     registry,
		identity:     NewInMemoryIdentityResolver(),
		backfill:     NewInMemoryBackfillService(),
		deduplicator: NewInMemoryImageDeduplicator(),
	}
}

// ProcessOne нормализует одно сырое наблюдение
func (p *Pipeline) ProcessOne(raw RawProductRecord) (NormalizedProductRecord, error) {
	handler, err := p.registry.Get(raw.ParserName)
	if err != nil {
		return NormalizedProductRecord{}, err
	}

	record := Handle(handler, raw)
	record.CanonicalProductID = p.identity.Resolve(&record)

	dedup := p.deduplicator.Process(record.ImageURLs)
	record.ImageURLs = dedup.UniqueURLs
	record.DuplicateImageURLs = dedup.DuplicateURLs
	record.ImageFingerprints = dedup.Fingerprints

	p.backfill.Apply(&record)
	return record, nil
}

// ProcessMany нормализует пачку сырых наблюдений
func (p *Pipeline) ProcessMany(raws []RawProductRecord) ([]NormalizedProductRecord, error) {
	out := make([]NormalizedProductRecord, 0, len(raws))
	for _, raw := range raws {
		record, err := p.ProcessOne(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}
