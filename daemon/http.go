package daemon

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// ServerOptions настройки HTTP-поверхности демона.
// Значения по умолчанию подставляются в задания без соответствующих полей.
type ServerOptions struct {
	DefaultReceiverDB string
	DefaultCatalogDB  string
	DefaultParserName string
	DefaultBatchSize  int
	DefaultMaxBatches int

	// AuthToken токен доступа к POST-ручкам. Пустой токен отключает проверку.
	AuthToken string

	// RateLimit запросов в секунду на POST-ручки; 0 отключает лимитер.
	RateLimit float64
	RateBurst int
}

// NewRouter собирает gin-маршрутизатор демона
func NewRouter(d *Daemon, options ServerOptions) *gin.Engine {
	if options.DefaultParserName == "" {
		options.DefaultParserName = "fixprice"
	}
	if options.DefaultBatchSize < 1 {
		options.DefaultBatchSize = 250
	}
	if options.DefaultMaxBatches < 0 {
		options.DefaultMaxBatches = 0
	}
	options.AuthToken = strings.TrimSpace(options.AuthToken)

	router := gin.New()
	router.Use(gin.Recovery())

	var limiter *rate.Limiter
	if options.RateLimit > 0 {
		burst := options.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(options.RateLimit), burst)
	}

	snapshotHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, d.Snapshot())
	}
	router.GET("/health", snapshotHandler)
	router.GET("/queue", snapshotHandler)

	enqueueHandler := func(c *gin.Context) {
		if limiter != nil && !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
			return
		}
		if !authorized(c, options.AuthToken) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}

		payload, err := readJSONObject(c)
		if err != "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": err})
			return
		}

		receiverDB := firstNonEmpty(stringField(payload, "receiver_db"), options.DefaultReceiverDB)
		catalogDB := firstNonEmpty(stringField(payload, "catalog_db"), options.DefaultCatalogDB)
		if receiverDB == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "receiver_db is required"})
			return
		}
		if catalogDB == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "catalog_db is required"})
			return
		}

		job := QueueJob{
			ReceiverDB: receiverDB,
			CatalogDB:  catalogDB,
			ParserName: firstNonEmpty(stringField(payload, "parser_name"), options.DefaultParserName),
			BatchSize:  intField(payload, "batch_size", options.DefaultBatchSize, 1),
			MaxBatches: intField(payload, "max_batches", options.DefaultMaxBatches, 0),
			RunID:      stringField(payload, "run_id"),
			Source:     firstNonEmpty(stringField(payload, "source"), "receiver"),
		}

		result := d.Enqueue(job)
		status := http.StatusAccepted
		if result.Reason == "queue_full" {
			status = http.StatusTooManyRequests
		}

		c.JSON(status, gin.H{
			"accepted":   result.Accepted,
			"duplicate":  result.Duplicate,
			"reason":     result.Reason,
			"queue_size": result.QueueSize,
			"key":        []string{result.Key[0], result.Key[1], result.Key[2]},
			"job":        job,
		})
	}
	router.POST("/trigger", enqueueHandler)
	router.POST("/enqueue", enqueueHandler)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	})

	return router
}

// authorized проверяет Bearer-заголовок или X-Converter-Token
func authorized(c *gin.Context, token string) bool {
	if token == "" {
		return true
	}

	authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "bearer ") {
		if strings.TrimSpace(authHeader[7:]) == token {
			return true
		}
	}

	return strings.TrimSpace(c.GetHeader("X-Converter-Token")) == token
}

// readJSONObject читает тело запроса как JSON-объект.
// Пустое тело трактуется как пустой объект.
func readJSONObject(c *gin.Context) (map[string]any, string) {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return map[string]any{}, ""
	}

	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		return nil, "request body must be a JSON object"
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return payload, ""
}

func stringField(payload map[string]any, key string) string {
	value, ok := payload[key]
	if !ok || value == nil {
		return ""
	}
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	}
	return ""
}

func intField(payload map[string]any, key string, fallback, minimum int) int {
	out := fallback
	switch value := payload[key].(type) {
	case float64:
		out = int(value)
	case string:
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			out = parsed
		}
	}
	if out < minimum {
		out = minimum
	}
	return out
}

func firstNonEmpty(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(fallback)
}
