package provider

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"acquisition-service/ddd/domain/failure"
	"acquisition-service/ddd/domain/gateway"
)

// SearchClient 通过 HTTP 调用外部检索服务
// GET {base}/search?q=&type=&limit=  ->  {"results": [...]}
type SearchClient struct {
	api *apiClient
}

func NewSearchClient(baseURL, apiKey string, timeout time.Duration) *SearchClient {
	return &SearchClient{api: newAPIClient(baseURL, apiKey, timeout)}
}

type searchResponse struct {
	Results []gateway.ReleaseCandidate `json:"results"`
}

func (c *SearchClient) Search(ctx context.Context, q gateway.SearchQuery) ([]gateway.ReleaseCandidate, error) {
	if c.api.baseURL == "" {
		return nil, failure.Permanent(errors.New("search provider is not configured"))
	}
	params := url.Values{}
	params.Set("q", q.Query)
	if q.MediaType != "" {
		params.Set("type", q.MediaType)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.RequestID != "" {
		params.Set("requestId", q.RequestID)
	}

	var resp searchResponse
	if err := c.api.do(ctx, http.MethodGet, "/search?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}
