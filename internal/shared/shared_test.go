package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestActorMiddleware(t *testing.T) {
	var got int64
	h := ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ActorHeader, "42")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, int64(42), got)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ActorHeader, "abc")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Zero(t, got)
	require.Zero(t, ActorFromContext(context.Background()))
}

func TestPagination(t *testing.T) {
	p := NewPagination(2, 0, 45)
	require.Equal(t, Pagination{Page: 2, PerPage: 20, Total: 45, TotalPages: 3}, p)
	require.Equal(t, 20, p.Offset())

	req := httptest.NewRequest(http.MethodGet, "/?page=3&per_page=500", nil)
	pr := PageFromRequest(req)
	require.Equal(t, 200, pr.Limit())
	require.Equal(t, 400, pr.Offset())
}

func TestRefIDIsStable(t *testing.T) {
	require.Equal(t, RefID(EntityPurchaseOrder, 7), RefID(EntityPurchaseOrder, 7))
	require.NotEqual(t, RefID(EntityPurchaseOrder, 7), RefID(EntityInvoice, 7))
}

func TestFormatQtyWholeNumbers(t *testing.T) {
	require.Equal(t, "3", FormatQty(3))
	require.NotEmpty(t, FormatAmount(1210))
}
