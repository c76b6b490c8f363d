package marketplace

// Auth carries the per-call credential material resolved by the worker.
type Auth struct {
	AccessToken string
	ShopID      string
}

// Item is the detail response for a single listing.
type Item struct {
	ItemID     string  `json:"item_id"`
	ShopID     string  `json:"shop_id"`
	Name       string  `json:"item_name"`
	Price      float64 `json:"price"`
	Stock      int     `json:"stock"`
	ItemStatus string  `json:"item_status"`
}

// Model is one variation of an item.
type Model struct {
	ModelID string  `json:"model_id"`
	Name    string  `json:"model_name"`
	Price   float64 `json:"price"`
	Stock   int     `json:"stock"`
}

// ItemSummary is the lightweight representation returned by list calls.
type ItemSummary struct {
	ItemID     string `json:"item_id"`
	ItemStatus string `json:"item_status"`
	UpdateTime int64  `json:"update_time"`
}

// ItemPage is one page of the item list, with an offset-style cursor.
type ItemPage struct {
	Items       []ItemSummary `json:"item"`
	TotalCount  int           `json:"total_count"`
	HasNextPage bool          `json:"has_next_page"`
	NextOffset  int           `json:"next_offset"`
}

// Order is the lightweight order representation from list calls.
type Order struct {
	OrderSN    string `json:"order_sn"`
	Status     string `json:"order_status"`
	UpdateTime int64  `json:"update_time"`
}

// OrderPage is one page of the order list, with an opaque cursor.
type OrderPage struct {
	Orders     []Order `json:"order_list"`
	More       bool    `json:"more"`
	NextCursor string  `json:"next_cursor"`
}

// TokenResponse is the OAuth-style token endpoint response.
type TokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpireIn         int64  `json:"expire_in"`
	RefreshExpireIn  int64  `json:"refresh_expire_in"`
}

type apiEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// envelope lets the transport layer surface errors the API embeds inside
// a 200 response body.
type envelope interface {
	apiError() (code, message string)
}

func (e apiEnvelope) apiError() (string, string) {
	return e.Error, e.Message
}
