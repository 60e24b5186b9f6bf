package aliexpress

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"dealbot/internal/distribution"
	logx "dealbot/pkg/logx"
)

const listBody = `{
  "aliexpress_affiliate_product_query_response": {
    "resp_result": {
      "resp_code": 200,
      "resp_msg": "ok",
      "result": {
        "products": {
          "product": [
            {"product_id": 1005001, "product_title": "Phone Case", "target_sale_price": "3.50",
             "target_original_price": "7.00", "commission_rate": "7.0%", "evaluate_rate": "95.1%",
             "product_main_image_url": "https://img/1.jpg", "promotion_link": "https://s.click/1"},
            {"product_id": "1005002", "product_title": "Cable", "target_sale_price": 2,
             "target_original_price": null, "commission_rate": "5%", "promotion_link": ""}
          ]
        }
      }
    }
  }
}`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{Endpoint: srv.URL, AppKey: "key", AppSecret: "secret", TrackingID: "trk", Timeout: 2 * time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c
}

func TestQueryParamsAndDecode(t *testing.T) {
	t.Parallel()

	seen := make(chan url.Values, 1)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen <- r.URL.Query()
		_, _ = w.Write([]byte(listBody))
	})

	cands, err := c.Query(context.Background(), distribution.Query{
		Keywords: []string{"phone", "cable"},
		MinPrice: 5.9,
		MaxPrice: 200,
		PageSize: 50,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	got := <-seen

	want := map[string]string{
		"method":          "aliexpress.affiliate.product.query",
		"sign_method":     "sha256",
		"app_key":         "key",
		"timestamp":       "1700000000000",
		"page_size":       "50",
		"target_currency": "USD",
		"sort":            "LAST_VOLUME_DESC",
		"tracking_id":     "trk",
		"min_sale_price":  "5",
		"max_sale_price":  "200",
		"keywords":        "phone,cable",
	}
	for k, v := range want {
		if got.Get(k) != v {
			t.Fatalf("param %s=%q want %q", k, got.Get(k), v)
		}
	}
	if got.Get("sign") != Sign("secret", got) {
		t.Fatalf("signature mismatch")
	}

	if len(cands) != 2 {
		t.Fatalf("cands=%d want 2", len(cands))
	}
	first := cands[0]
	if first.ID != "1005001" || first.SalePrice != "3.50" || first.Rating != "95.1%" || first.Link != "https://s.click/1" {
		t.Fatalf("first=%+v", first)
	}
	if first.Commission() != 7 || first.DiscountPercent() != 50 {
		t.Fatalf("commission=%v discount=%d", first.Commission(), first.DiscountPercent())
	}
	if cands[1].SalePrice != "2" || cands[1].OriginalPrice != "" {
		t.Fatalf("second=%+v", cands[1])
	}
}

func TestQueryOmitsUnusableBounds(t *testing.T) {
	t.Parallel()

	seen := make(chan url.Values, 1)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen <- r.URL.Query()
		_, _ = w.Write([]byte(listBody))
	})
	if _, err := c.Query(context.Background(), distribution.Query{MinPrice: 0.5, MaxPrice: 0}); err != nil {
		t.Fatalf("Query: %v", err)
	}
	got := <-seen
	for _, k := range []string{"min_sale_price", "max_sale_price", "keywords"} {
		if got.Has(k) {
			t.Fatalf("unexpected %s=%q", k, got.Get(k))
		}
	}
	if got.Get("page_size") != "50" {
		t.Fatalf("default page size=%q", got.Get("page_size"))
	}
}

func TestQueryErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "error response", status: 200, body: `{"error_response":{"code":"IncompleteSignature","msg":"bad sign"}}`, want: distribution.ErrProviderRejected},
		{name: "resp code", status: 200, body: `{"aliexpress_affiliate_product_query_response":{"resp_result":{"resp_code":405,"resp_msg":"limit"}}}`, want: distribution.ErrProviderRejected},
		{name: "garbage", status: 200, body: `<html>`, want: distribution.ErrDataParse},
		{name: "server error", status: 502, body: ``, want: distribution.ErrProviderTransport},
		{name: "forbidden", status: 403, body: ``, want: distribution.ErrProviderRejected},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.Query(context.Background(), distribution.Query{})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err=%v want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeProductShapes(t *testing.T) {
	t.Parallel()

	wrap := func(products string) []byte {
		return []byte(`{"aliexpress_affiliate_product_query_response":{"resp_result":{"resp_code":"200","result":{"products":` + products + `}}}}`)
	}
	tests := []struct {
		name     string
		products string
		want     int
	}{
		{name: "list", products: `[{"product_id":1},{"product_id":2}]`, want: 2},
		{name: "wrapped single", products: `{"product":{"product_id":1}}`, want: 1},
		{name: "bare single", products: `{"product_id":1,"promotion_link":"x"}`, want: 1},
		{name: "null", products: `null`, want: 0},
		{name: "empty wrapper", products: `{}`, want: 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := decode(wrap(tt.products))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("len=%d want %d", len(got), tt.want)
			}
		})
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{AppKey: "k"}, logx.Nop()); err == nil {
		t.Fatalf("expected error without secret")
	}
}
