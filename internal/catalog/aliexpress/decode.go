package aliexpress

import (
	"bytes"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"dealbot/internal/distribution"
)

type envelope struct {
	Error *struct {
		Code    looseString `json:"code"`
		Msg     string      `json:"msg"`
		SubCode string      `json:"sub_code"`
		SubMsg  string      `json:"sub_msg"`
	} `json:"error_response"`
	Query *struct {
		RespResult *struct {
			RespCode looseString `json:"resp_code"`
			RespMsg  string      `json:"resp_msg"`
			Result   *struct {
				Products jsoniter.RawMessage `json:"products"`
			} `json:"result"`
		} `json:"resp_result"`
	} `json:"aliexpress_affiliate_product_query_response"`
}

type product struct {
	ID             looseString `json:"product_id"`
	Title          string      `json:"product_title"`
	SalePrice      looseString `json:"target_sale_price"`
	OriginalPrice  looseString `json:"target_original_price"`
	CommissionRate looseString `json:"commission_rate"`
	EvaluateRate   looseString `json:"evaluate_rate"`
	ImageURL       string      `json:"product_main_image_url"`
	PromotionLink  string      `json:"promotion_link"`
}

// looseString accepts a JSON string, number or null.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*s = ""
	case b[0] == '"':
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = looseString(v)
	default:
		*s = looseString(b)
	}
	return nil
}

func decode(body []byte) ([]distribution.Candidate, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", distribution.ErrDataParse, err)
	}
	if e := env.Error; e != nil {
		msg := e.Msg
		if e.SubMsg != "" {
			msg += " (" + e.SubMsg + ")"
		}
		return nil, fmt.Errorf("%w: %s %s", distribution.ErrProviderRejected, e.Code, msg)
	}
	if env.Query == nil || env.Query.RespResult == nil {
		return nil, fmt.Errorf("%w: missing resp_result", distribution.ErrDataParse)
	}
	rr := env.Query.RespResult
	if code := strings.TrimSpace(string(rr.RespCode)); code != "200" {
		return nil, fmt.Errorf("%w: resp_code %s %s", distribution.ErrProviderRejected, code, rr.RespMsg)
	}
	if rr.Result == nil {
		return nil, nil
	}

	prods, err := decodeProducts(rr.Result.Products)
	if err != nil {
		return nil, fmt.Errorf("%w: products: %v", distribution.ErrDataParse, err)
	}
	out := make([]distribution.Candidate, 0, len(prods))
	for _, p := range prods {
		out = append(out, distribution.Candidate{
			ID:             string(p.ID),
			Title:          p.Title,
			SalePrice:      string(p.SalePrice),
			OriginalPrice:  string(p.OriginalPrice),
			CommissionRate: string(p.CommissionRate),
			Rating:         string(p.EvaluateRate),
			ImageURL:       p.ImageURL,
			Link:           p.PromotionLink,
		})
	}
	return out, nil
}

// decodeProducts handles {"product":[...]}, {"product":{...}}, [...] and {...}.
func decodeProducts(raw jsoniter.RawMessage) ([]product, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var list []product
		err := json.Unmarshal(raw, &list)
		return list, err
	}

	var wrapped struct {
		Product jsoniter.RawMessage `json:"product"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(wrapped.Product)) > 0 {
		return decodeProducts(wrapped.Product)
	}

	var single product
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, err
	}
	if single.ID == "" && single.PromotionLink == "" {
		return nil, nil
	}
	return []product{single}, nil
}
