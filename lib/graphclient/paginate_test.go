package graphclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type pagedServer struct {
	t        *testing.T
	pages    [][]string
	requests []string
	srv      *httptest.Server
}

// serves pages[i] at /items?page=i, with paging.next pointing at the next
// index. only page 0 should carry the injected access token.
func newPagedServer(t *testing.T, pages [][]string) *pagedServer {
	ps := &pagedServer{t: t, pages: pages}
	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ps.requests = append(ps.requests, r.URL.String())

		idx := 0
		fmt.Sscanf(r.URL.Query().Get("page"), "%d", &idx)

		body := map[string]any{"data": toRaw(ps.pages[idx])}
		if idx+1 < len(ps.pages) {
			body["paging"] = map[string]any{
				"next": fmt.Sprintf("%s/items?page=%d&cursor=opaque", ps.srv.URL, idx+1),
			}
		}
		json.NewEncoder(w).Encode(body)
	}))
	return ps
}

func toRaw(ids []string) []map[string]string {
	out := make([]map[string]string, len(ids))
	for i, id := range ids {
		out[i] = map[string]string{"id": id}
	}
	return out
}

func collect(t *testing.T, pager *Pager) ([]string, error) {
	var ids []string
	for pager.Next(context.Background()) {
		var item struct {
			ID string `json:"id"`
		}
		require.NoError(t, pager.Decode(&item))
		ids = append(ids, item.ID)
	}
	return ids, pager.Err()
}

func TestPaginateYieldsAllItemsInOrder(t *testing.T) {
	ps := newPagedServer(t, [][]string{
		{"a", "b", "c"},
		{"d", "e"},
		{"f"},
	})
	defer ps.srv.Close()

	client := testClient(t, ps.srv.URL, ClientOptions{})
	ids, err := collect(t, client.Paginate("/items", nil))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, ids)
	require.Len(t, ps.requests, 3)

	// the first request is credential-injected, continuation URLs are
	// fetched verbatim
	require.Contains(t, ps.requests[0], "access_token=test-token")
	require.NotContains(t, ps.requests[1], "access_token")
	require.Contains(t, ps.requests[1], "cursor=opaque")
}

func TestPaginateSinglePage(t *testing.T) {
	ps := newPagedServer(t, [][]string{{"only"}})
	defer ps.srv.Close()

	client := testClient(t, ps.srv.URL, ClientOptions{})
	ids, err := collect(t, client.Paginate("/items", nil))
	require.NoError(t, err)
	require.Equal(t, []string{"only"}, ids)
	require.Len(t, ps.requests, 1)
}

func TestPaginateEmptyCollection(t *testing.T) {
	ps := newPagedServer(t, [][]string{{}})
	defer ps.srv.Close()

	client := testClient(t, ps.srv.URL, ClientOptions{})
	ids, err := collect(t, client.Paginate("/items", nil))
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestPaginateSkipsEmptyMiddlePage(t *testing.T) {
	ps := newPagedServer(t, [][]string{
		{"a"},
		{},
		{"b"},
	})
	defer ps.srv.Close()

	client := testClient(t, ps.srv.URL, ClientOptions{})
	ids, err := collect(t, client.Paginate("/items", nil))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids)
}

func TestPaginatePropagatesFetchFailure(t *testing.T) {
	requests := 0
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			fmt.Fprintf(w, `{"data":[{"id":"a"}],"paging":{"next":"%s/items?page=1"}}`, srv.URL)
			return
		}
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"permission denied"}`))
	}))
	defer srv.Close()

	client := testClient(t, srv.URL, ClientOptions{})
	pager := client.Paginate("/items", nil)

	ids, err := collect(t, pager)
	require.Equal(t, []string{"a"}, ids, "items before the failure still come through")

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	require.Equal(t, http.StatusForbidden, upstream.Status)

	require.False(t, pager.Next(context.Background()), "a failed pager stays terminated")
}
