package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"nhooyr.io/websocket"

	"nhbmarket/config"
	"nhbmarket/core/events"
	"nhbmarket/services/archive"
)

type httpHarness struct {
	n       *node
	r       *runner
	archive *archive.Archive
	srv     *httptest.Server
}

func newHTTPHarness(t *testing.T, httpCfg config.HTTP) *httpHarness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	arch, err := archive.New(db)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	n := newTestNode(t, events.Fanout{arch})
	script := &Script{
		Genesis: Genesis{
			Balances: map[string]string{"bob": "1000"},
			Items: []GenesisItem{{
				Name:     "punks",
				Category: 7,
				Mint:     []GenesisMint{{To: "alice", Token: "1"}, {To: "alice", Token: "2"}},
			}},
		},
		Steps: []Step{
			{Op: "sell", Caller: "alice", Height: 5, Category: 7, Item: "punks", Token: "1", Amount: 1, Price: "300", Save: "s1"},
			{Op: "createAuction", Caller: "alice", Height: 5, Item: "punks", Token: "2", Amount: 1, Price: "100", EndBlock: 5000},
			{Op: "bid", Caller: "bob", Height: 6, Item: "punks", Token: "2", Price: "150"},
		},
	}
	r, err := newRunner(n, script)
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	if err := r.genesis(script.Genesis); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	if _, err := r.run(context.Background(), script.Steps); err != nil {
		t.Fatalf("run: %v", err)
	}
	srv := httptest.NewServer(newServer(n, arch, httpCfg, nil).Handler())
	t.Cleanup(srv.Close)
	return &httpHarness{n: n, r: r, archive: arch, srv: srv}
}

func (h *httpHarness) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(h.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

var generousLimits = config.HTTP{RequestsPerMinute: 60000, Burst: 1000}

func TestHealthz(t *testing.T) {
	h := newHTTPHarness(t, generousLimits)
	var body map[string]any
	if status := h.get(t, "/healthz", &body); status != http.StatusOK {
		t.Fatalf("unexpected status %d", status)
	}
	if body["status"] != "ok" || body["height"] != float64(6) || body["sales"] != float64(1) || body["supply"] != "1000" || body["auctions"] != float64(1) {
		t.Fatalf("unexpected health body %v", body)
	}
}

func TestSaleViews(t *testing.T) {
	h := newHTTPHarness(t, generousLimits)
	vid := h.r.vids["s1"]

	var sale saleView
	if status := h.get(t, "/v1/sales/"+vid.Hex(), &sale); status != http.StatusOK {
		t.Fatalf("unexpected status %d", status)
	}
	alice, _ := h.r.account("alice")
	if sale.Seller != accountString(alice) || sale.UnitPrice != "300" || sale.TokenID != "1" {
		t.Fatalf("unexpected sale view %+v", sale)
	}

	punks, _ := h.r.item("punks")
	var byToken []saleView
	if status := h.get(t, fmt.Sprintf("/v1/items/%s/1/sales", itemString(punks)), &byToken); status != http.StatusOK || len(byToken) != 1 {
		t.Fatalf("unexpected token sales %d %v", status, byToken)
	}
	var bySeller []saleView
	if status := h.get(t, "/v1/sellers/"+accountString(alice)+"/sales", &bySeller); status != http.StatusOK || len(bySeller) != 1 {
		t.Fatalf("unexpected seller sales %d %v", status, bySeller)
	}

	if status := h.get(t, "/v1/sales/zz", nil); status != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", status)
	}
	var missing [32]byte
	if status := h.get(t, fmt.Sprintf("/v1/sales/%x", missing), nil); status != http.StatusNotFound {
		t.Fatalf("expected not found, got %d", status)
	}
	if status := h.get(t, fmt.Sprintf("/v1/offers/%x", missing), nil); status != http.StatusNotFound {
		t.Fatalf("expected offer not found, got %d", status)
	}
}

func TestAuctionAndAccountViews(t *testing.T) {
	h := newHTTPHarness(t, generousLimits)
	punks, _ := h.r.item("punks")

	var auction auctionView
	if status := h.get(t, fmt.Sprintf("/v1/auctions/%s/2", itemString(punks)), &auction); status != http.StatusOK {
		t.Fatalf("unexpected status %d", status)
	}
	if auction.Phase != "active" || len(auction.Biddings) != 1 || auction.Biddings[0].Price != "150" {
		t.Fatalf("unexpected auction view %+v", auction)
	}
	if status := h.get(t, fmt.Sprintf("/v1/auctions/%s/1", itemString(punks)), nil); status != http.StatusNotFound {
		t.Fatalf("expected missing auction, got %d", status)
	}

	bob, _ := h.r.account("bob")
	var account accountView
	if status := h.get(t, "/v1/accounts/"+accountString(bob), &account); status != http.StatusOK {
		t.Fatalf("unexpected status %d", status)
	}
	if account.Balance != "850" || account.Mileage != "0" || account.Banned {
		t.Fatalf("unexpected account view %+v", account)
	}
	if status := h.get(t, "/v1/accounts/nope", nil); status != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", status)
	}
}

func TestEventsPage(t *testing.T) {
	h := newHTTPHarness(t, generousLimits)
	var page []map[string]any
	if status := h.get(t, "/v1/events?limit=2", &page); status != http.StatusOK || len(page) != 2 {
		t.Fatalf("unexpected events page %d %v", status, page)
	}
	var created []map[string]any
	if status := h.get(t, "/v1/events?type=market.sale.created", &created); status != http.StatusOK || len(created) != 1 {
		t.Fatalf("unexpected filtered page %d %v", status, created)
	}
	attrs, ok := created[0]["attributes"].(map[string]any)
	if !ok || attrs["vid"] == nil {
		t.Fatalf("expected flattened attributes, got %v", created[0])
	}
	if status := h.get(t, "/v1/events?after=x", nil); status != http.StatusBadRequest {
		t.Fatalf("expected bad cursor to be rejected, got %d", status)
	}
}

func TestRateLimit(t *testing.T) {
	h := newHTTPHarness(t, config.HTTP{RequestsPerMinute: 1, Burst: 2})
	for i := 0; i < 2; i++ {
		if status := h.get(t, "/healthz", nil); status != http.StatusOK {
			t.Fatalf("request %d: unexpected status %d", i, status)
		}
	}
	if status := h.get(t, "/healthz", nil); status != http.StatusTooManyRequests {
		t.Fatalf("expected throttling, got %d", status)
	}
}

func TestEventStreamSendsBacklogThenLive(t *testing.T) {
	h := newHTTPHarness(t, generousLimits)
	total, err := h.archive.Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + h.srv.URL[len("http"):] + "/v1/events/ws?after=1"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	readSeq := func() uint64 {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var rec struct {
			Seq uint64 `json:"seq"`
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return rec.Seq
	}
	for want := uint64(2); want <= uint64(total); want++ {
		if got := readSeq(); got != want {
			t.Fatalf("backlog: expected seq %d, got %d", want, got)
		}
	}

	if _, err := h.r.run(context.Background(), []Step{{Op: "pause", Caller: "owner"}}); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if got := readSeq(); got != uint64(total)+1 {
		t.Fatalf("live: expected seq %d, got %d", total+1, got)
	}
}
