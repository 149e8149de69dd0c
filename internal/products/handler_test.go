package products

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, s Store) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, _ := test.NewNullLogger()
	h := NewHandler(s, log)

	r := gin.New()
	h.Register(r.Group("/api"))
	r.GET("/healthz", h.Health)
	return r
}

func doRequest(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_ListItems(t *testing.T) {
	s := NewMemoryStore(WithClock(newStepClock().Now))
	for _, id := range []string{"1", "2", "3"} {
		observe(t, s, id, "Bouquet "+id, "500", day1)
	}
	r := newTestRouter(t, s)

	w := doRequest(r, http.MethodGet, "/api/items?page=1&per_page=2", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Items []struct {
			ID          string `json:"id"`
			LatestPrice string `json:"latest_price"`
		} `json:"items"`
		TotalCount int `json:"total_count"`
		PerPage    int `json:"per_page"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.TotalCount)
	assert.Equal(t, 2, resp.PerPage)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "3", resp.Items[0].ID)
	assert.Equal(t, "500", resp.Items[0].LatestPrice)
}

func TestHandler_ListItemsEmptyAndBadQuery(t *testing.T) {
	r := newTestRouter(t, NewMemoryStore())

	w := doRequest(r, http.MethodGet, "/api/items?page=abc&per_page=-4", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"items":[],"total_count":0,"page":1,"per_page":9}`, w.Body.String())
}

func TestHandler_GetItemAndHistory(t *testing.T) {
	s := NewMemoryStore(WithClock(newStepClock().Now))
	observe(t, s, "101", "Rose Bouquet", "1200", day1)
	observe(t, s, "101", "Rose Bouquet", "1350", day2)
	r := newTestRouter(t, s)

	w := doRequest(r, http.MethodGet, "/api/items/101", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"Rose Bouquet"`)
	assert.Contains(t, w.Body.String(), `"latest_price":"1350"`)

	w = doRequest(r, http.MethodGet, "/api/items/101/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	var hist []PriceObservation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
	require.Len(t, hist, 2)
	assert.Equal(t, "1350.00", hist[0].Price.StringFixed(2))
	assert.True(t, hist[1].ObservedOn.Equal(day1))

	w = doRequest(r, http.MethodGet, "/api/items/999", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doRequest(r, http.MethodGet, "/api/items/999/history", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_CreateItem(t *testing.T) {
	s := NewMemoryStore()
	r := newTestRouter(t, s)

	w := doRequest(r, http.MethodPost, "/api/items", `{"id":"55","name":"Sunflowers","image_ref":"https://img/55.jpg"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotContains(t, w.Body.String(), "latest_price")

	w = doRequest(r, http.MethodPost, "/api/items", `{"id":"55","name":"Sunflowers","image_ref":"https://img/55.jpg"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	hist, err := s.GetPriceHistory(context.Background(), "55")
	require.NoError(t, err)
	assert.Empty(t, hist)

	w = doRequest(r, http.MethodPost, "/api/items", `{"name":"no id"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doRequest(r, http.MethodPost, "/api/items", `{"id":"  ","name":"blank"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_DeleteItem(t *testing.T) {
	s := NewMemoryStore()
	observe(t, s, "101", "Rose Bouquet", "1200", day1)
	r := newTestRouter(t, s)

	w := doRequest(r, http.MethodDelete, "/api/items/101", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = doRequest(r, http.MethodDelete, "/api/items/101", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type downStore struct{ *MemoryStore }

func (downStore) Ping(context.Context) error { return ErrStoreUnavailable }

func (downStore) ListItems(context.Context, ListParams) ([]ItemView, int, error) {
	return nil, 0, ErrStoreUnavailable
}

func TestHandler_StoreUnavailable(t *testing.T) {
	r := newTestRouter(t, downStore{NewMemoryStore()})

	w := doRequest(r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	w = doRequest(r, http.MethodGet, "/api/items", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	r = newTestRouter(t, NewMemoryStore())
	w = doRequest(r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
