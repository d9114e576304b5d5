package api

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"pastelink/pkg/domain"
)

const (
	maxTTLSeconds = 10 * 365 * 24 * 60 * 60
	maxViewsLimit = 1_000_000_000
)

// createReq keeps raw JSON values so type errors surface as field details
// rather than as a decode failure. A map keeps an absent field apart from
// an explicit null.
type createReq map[string]any

func (req createReq) validate(maxSize int64) (domain.CreateParams, []domain.FieldDetail) {
	var (
		params  domain.CreateParams
		details []domain.FieldDetail
	)
	content, ok := req["content"].(string)
	if !ok || strings.TrimSpace(content) == "" {
		details = append(details, domain.FieldDetail{
			Field:   "content",
			Message: "content is required and must be a non-empty string",
		})
	} else if int64(len(content)) > maxSize {
		details = append(details, domain.FieldDetail{
			Field:   "content",
			Message: fmt.Sprintf("content must be at most %d bytes", maxSize),
		})
	} else {
		params.Content = content
	}
	if v, d := positiveInt(req, "ttl_seconds", maxTTLSeconds); d != nil {
		details = append(details, *d)
	} else {
		params.TTLSeconds = v
	}
	if v, d := positiveInt(req, "max_views", maxViewsLimit); d != nil {
		details = append(details, *d)
	} else {
		params.MaxViews = v
	}
	return params, details
}

// positiveInt accepts any JSON number with an integral value in [1, max].
// An absent field means "not set"; null is rejected like any non-number.
func positiveInt(req createReq, field string, max int64) (*int64, *domain.FieldDetail) {
	raw, present := req[field]
	if !present {
		return nil, nil
	}
	bad := &domain.FieldDetail{Field: field, Message: field + " must be an integer >= 1"}
	n, ok := raw.(json.Number)
	if !ok {
		return nil, bad
	}
	v, err := n.Int64()
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil || f != math.Trunc(f) || f > math.MaxInt64 {
			return nil, bad
		}
		v = int64(f)
	}
	if v < 1 {
		return nil, bad
	}
	if v > max {
		return nil, &domain.FieldDetail{Field: field, Message: fmt.Sprintf("%s must be at most %d", field, max)}
	}
	return &v, nil
}
