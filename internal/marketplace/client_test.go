package marketplace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testServerClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Options{
		BaseURL:        server.URL,
		PartnerID:      "2005001",
		TimeoutSeconds: 5,
	}, zap.NewNop())
}

func TestGetItem(t *testing.T) {
	c := testServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/product/get_item_base_info", r.URL.Path)
		assert.Equal(t, "777", r.URL.Query().Get("item_id"))
		assert.Equal(t, "2005001", r.URL.Query().Get("partner_id"))
		assert.Equal(t, "9", r.URL.Query().Get("shop_id"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		w.Write([]byte(`{"response":{"item_id":"777","item_name":"Panela","price":49.9,"stock":3,"item_status":"NORMAL"}}`))
	})

	item, err := c.GetItem(context.Background(), Auth{AccessToken: "tok", ShopID: "9"}, "777")
	require.NoError(t, err)
	assert.Equal(t, "777", item.ItemID)
	assert.Equal(t, "Panela", item.Name)
	assert.Equal(t, 49.9, item.Price)
	assert.Equal(t, "NORMAL", item.ItemStatus)
}

func TestGetModelList(t *testing.T) {
	c := testServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/product/get_model_list", r.URL.Path)
		w.Write([]byte(`{"response":{"model":[
			{"model_id":"m1","model_name":"Azul","price":10,"stock":1},
			{"model_id":"m2","model_name":"Verde","price":12,"stock":2}
		]}}`))
	})

	models, err := c.GetModelList(context.Background(), Auth{ShopID: "9"}, "777")
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "m1", models[0].ModelID)
	assert.Equal(t, "Verde", models[1].Name)
}

func TestHTTPStatusBecomesClassifiableError(t *testing.T) {
	c := testServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"item_not_exist"}`))
	})

	_, err := c.GetItem(context.Background(), Auth{ShopID: "9"}, "777")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Equal(t, ClassNotFound, Classify(err))
}

func TestEnvelopeErrorInsideOK(t *testing.T) {
	c := testServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"invalid_token","message":"token expired"}`))
	})

	_, err := c.GetItem(context.Background(), Auth{ShopID: "9"}, "777")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_token")
	assert.Equal(t, ClassCredential, Classify(err))
}

func TestRefreshToken(t *testing.T) {
	c := testServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v2/auth/access_token/get", r.URL.Path)
		w.Write([]byte(`{"access_token":"new-at","refresh_token":"new-rt","expire_in":14400}`))
	})

	tok, err := c.RefreshToken(context.Background(), "old-rt", "9")
	require.NoError(t, err)
	assert.Equal(t, "new-at", tok.AccessToken)
	assert.Equal(t, "new-rt", tok.RefreshToken)
	assert.Equal(t, int64(14400), tok.ExpireIn)
}
