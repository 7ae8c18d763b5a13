package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"nhbmarket/config"
	"nhbmarket/crypto"
	"nhbmarket/native/market"
	"nhbmarket/services/archive"
)

const (
	wsWriteTimeout    = 10 * time.Second
	maxTrackedClients = 4096
)

// server exposes read-only views over a node.
type server struct {
	n       *node
	archive *archive.Archive
	limiter *rateLimiter
	logger  *slog.Logger
	router  http.Handler
}

func newServer(n *node, arch *archive.Archive, cfg config.HTTP, logger *slog.Logger) *server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &server{n: n, archive: arch, limiter: newRateLimiter(cfg.RequestsPerMinute, cfg.Burst), logger: logger}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the instrumented router.
func (s *server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "marketd")
}

func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.limiter.Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/v1", func(api chi.Router) {
		api.Get("/sales/{vid}", s.handleSale)
		api.Get("/offers/{vid}", s.handleOffer)
		api.Get("/auctions/{item}/{token}", s.handleAuction)
		api.Get("/items/{item}/{token}/sales", s.handleTokenSales)
		api.Get("/sellers/{account}/sales", s.handleSellerSales)
		api.Get("/accounts/{account}", s.handleAccount)
		api.Get("/events", s.handleEvents)
		api.Get("/events/ws", s.handleEventsWS)
	})
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.n.mu.Lock()
	stats := s.n.engine.Stats()
	paused := s.n.engine.Paused()
	supply, err := s.n.state.TokenSupply()
	s.n.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"height":   s.n.currentHeight(),
		"paused":   paused,
		"supply":   supply.String(),
		"sales":    stats.Sales,
		"offers":   stats.Offers,
		"auctions": stats.Auctions,
	})
}

func (s *server) handleSale(w http.ResponseWriter, r *http.Request) {
	vid, err := market.ParseVerificationID(chi.URLParam(r, "vid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.n.mu.Lock()
	sale, ok := s.n.engine.Sale(vid)
	s.n.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "sale not found")
		return
	}
	writeJSON(w, http.StatusOK, newSaleView(sale))
}

func (s *server) handleOffer(w http.ResponseWriter, r *http.Request) {
	vid, err := market.ParseVerificationID(chi.URLParam(r, "vid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.n.mu.Lock()
	offer, ok := s.n.engine.Offer(vid)
	s.n.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "offer not found")
		return
	}
	writeJSON(w, http.StatusOK, newOfferView(offer))
}

func (s *server) handleAuction(w http.ResponseWriter, r *http.Request) {
	item, token, ok := itemParams(w, r)
	if !ok {
		return
	}
	s.n.mu.Lock()
	auction, found := s.n.engine.Auction(item, token)
	phase := s.n.engine.AuctionPhase(item, token)
	bids := s.n.engine.Biddings(item, token)
	s.n.mu.Unlock()
	if !found {
		writeError(w, http.StatusNotFound, "auction not found")
		return
	}
	writeJSON(w, http.StatusOK, newAuctionView(auction, phase, bids))
}

func (s *server) handleTokenSales(w http.ResponseWriter, r *http.Request) {
	item, token, ok := itemParams(w, r)
	if !ok {
		return
	}
	s.n.mu.Lock()
	views := make([]saleView, 0)
	for i := 0; i < s.n.engine.SaleCountByToken(item, token); i++ {
		vid, _ := s.n.engine.SaleByTokenAt(item, token, i)
		if sale, found := s.n.engine.Sale(vid); found {
			views = append(views, newSaleView(sale))
		}
	}
	s.n.mu.Unlock()
	writeJSON(w, http.StatusOK, views)
}

func (s *server) handleSellerSales(w http.ResponseWriter, r *http.Request) {
	seller, err := crypto.ParseAccount(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.n.mu.Lock()
	views := make([]saleView, 0)
	for i := 0; i < s.n.engine.SaleCountBySeller(seller.Array()); i++ {
		vid, _ := s.n.engine.SaleBySellerAt(seller.Array(), i)
		if sale, found := s.n.engine.Sale(vid); found {
			views = append(views, newSaleView(sale))
		}
	}
	s.n.mu.Unlock()
	writeJSON(w, http.StatusOK, views)
}

func (s *server) handleAccount(w http.ResponseWriter, r *http.Request) {
	parsed, err := crypto.ParseAccount(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	account := parsed.Array()
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	balance, err := s.n.state.TokenBalance(account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	miles, err := s.n.mileage.Balance(account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, accountView{
		Address: accountString(account),
		Balance: amountString(balance),
		Mileage: amountString(miles),
		Nonce:   s.n.engine.Nonce(account),
		Banned:  s.n.engine.IsBanned(account),
		Sales:   s.n.engine.SaleCountBySeller(account),
		Offers:  s.n.engine.OfferCountByOfferor(account),
	})
}

func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "archive disabled")
		return
	}
	query := r.URL.Query()
	after, err := parseUintParam(query.Get("after"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid after cursor")
		return
	}
	limit, err := parseUintParam(query.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	records, err := s.archive.List(r.Context(), after, int(limit), strings.TrimSpace(query.Get("type")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		http.Error(w, "archive disabled", http.StatusServiceUnavailable)
		return
	}
	after, err := parseUintParam(r.URL.Query().Get("after"))
	if err != nil {
		http.Error(w, "invalid after cursor", http.StatusBadRequest)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, after); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

// streamEvents sends the archived backlog after the cursor and then follows
// live records. The live feed is opened first so no record falls between the
// backlog and the feed.
func (s *server) streamEvents(ctx context.Context, conn *websocket.Conn, after uint64) error {
	feed, cancel := s.archive.Subscribe(256)
	defer cancel()

	last := after
	for {
		backlog, err := s.archive.List(ctx, last, 500, "")
		if err != nil {
			return err
		}
		if len(backlog) == 0 {
			break
		}
		for _, rec := range backlog {
			if err := writeRecord(ctx, conn, rec); err != nil {
				return err
			}
			last = rec.Seq
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-feed:
			if !ok {
				return nil
			}
			if rec.Seq <= last {
				continue
			}
			if err := writeRecord(ctx, conn, rec); err != nil {
				return err
			}
			last = rec.Seq
		}
	}
}

func writeRecord(ctx context.Context, conn *websocket.Conn, rec archive.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func itemParams(w http.ResponseWriter, r *http.Request) ([20]byte, market.TokenID, bool) {
	item, err := crypto.ParseAccount(chi.URLParam(r, "item"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return [20]byte{}, market.TokenID{}, false
	}
	token, err := parseToken(chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return [20]byte{}, market.TokenID{}, false
	}
	return item.Array(), token, true
}

func parseUintParam(raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter applies a token bucket per client address.
type rateLimiter struct {
	perSecond rate.Limit
	burst     int
	now       func() time.Time

	mu       sync.Mutex
	visitors map[string]*rateEntry
}

func newRateLimiter(requestsPerMinute float64, burst int) *rateLimiter {
	perSecond := requestsPerMinute / 60.0
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		now:       time.Now,
		visitors:  make(map[string]*rateEntry),
	}
}

func (l *rateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientID(r)) {
			writeError(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *rateLimiter) allow(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	entry, ok := l.visitors[id]
	if !ok {
		if len(l.visitors) >= maxTrackedClients {
			l.prune(now)
		}
		entry = &rateEntry{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.visitors[id] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// prune drops clients idle for more than a minute.
func (l *rateLimiter) prune(now time.Time) {
	for id, entry := range l.visitors {
		if now.Sub(entry.lastSeen) > time.Minute {
			delete(l.visitors, id)
		}
	}
}

func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
