package response

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Envelope is the reply shape shared by every endpoint, so the exam
// client and the dashboard use one decoder. Data is set on success,
// Error on failure, Metadata always.
type Envelope struct {
	Data       interface{} `json:"data"`
	Error      *ErrDetail  `json:"error,omitempty"`
	Pagination *Page       `json:"pagination,omitempty"`
	Metadata   Meta        `json:"metadata"`
}

// ErrDetail carries a machine-readable code plus a human-readable
// message. Fields holds per-field validation messages when present.
type ErrDetail struct {
	Code    ErrCode           `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Page describes one slice of a paginated listing.
type Page struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// Meta carries request tracing data.
type Meta struct {
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// NewPage computes the page descriptor for a listing of total items.
func NewPage(page, perPage, total int) *Page {
	pages := 0
	if perPage > 0 {
		pages = (total + perPage - 1) / perPage
	}
	return &Page{Page: page, PerPage: perPage, TotalItems: total, TotalPages: pages}
}

// Success replies with data and no error.
func Success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Envelope{Data: data, Metadata: meta(c)})
}

// SuccessPaged replies with one page of a listing.
func SuccessPaged(c *gin.Context, status int, data interface{}, page *Page) {
	c.JSON(status, Envelope{Data: data, Pagination: page, Metadata: meta(c)})
}

// Fail replies with a coded error and no data.
func Fail(c *gin.Context, status int, code ErrCode) {
	c.JSON(status, failure(c, code, nil))
}

// FailWithFields replies with a coded error plus per-field messages.
func FailWithFields(c *gin.Context, status int, code ErrCode, fields map[string]string) {
	c.JSON(status, failure(c, code, fields))
}

// AbortFail is Fail for middleware: it also stops the handler chain.
func AbortFail(c *gin.Context, status int, code ErrCode) {
	c.AbortWithStatusJSON(status, failure(c, code, nil))
}

func failure(c *gin.Context, code ErrCode, fields map[string]string) Envelope {
	return Envelope{
		Error:    &ErrDetail{Code: code, Message: GetMessage(code), Fields: fields},
		Metadata: meta(c),
	}
}

func meta(c *gin.Context) Meta {
	id := c.GetString(ContextKeyRequestID)
	if id == "" {
		// Request arrived outside the middleware chain (tests, panics).
		id = uuid.New().String()
	}
	return Meta{
		RequestID: id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
