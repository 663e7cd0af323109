package indexer

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// API exposes the read query API over HTTP (spec §4.H core subset, supplemented by §4.K).
// Authentication and CORS are out of scope (spec §1 Non-goals) and are expected to sit in front
// of this router as middleware added by an external caller.
type API struct {
	storage  *Storage
	bus      *Bus
	stats    *StatsTracker
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

// NewAPI builds the read API over the given service components.
func NewAPI(storage *Storage, bus *Bus, stats *StatsTracker, log *logrus.Entry) *API {
	return &API{
		storage: storage,
		bus:     bus,
		stats:   stats,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.WithField("component", "read-api"),
	}
}

// Router builds the chi router for the API's routes.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/events", a.handleGetEvents)
	r.Get("/chains", a.handleGetChains)
	r.Get("/stats", a.handleGetStats)
	r.Get("/events/stream", a.handleStream)
	return r
}

type eventsResponse struct {
	Events []Event `json:"events"`
	Total  int64   `json:"total"`
}

func (a *API) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	query, err := parseEventQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	events, err := a.storage.GetRecentEvents(ctx, query)
	if err != nil {
		a.log.WithError(err).Error("get_recent_events failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	total, err := a.storage.CountEvents(ctx, query)
	if err != nil {
		a.log.WithError(err).Error("count_events failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, eventsResponse{Events: events, Total: total})
}

// parseEventQuery translates the wire query string into an EventQuery (spec §4.H / §6).
func parseEventQuery(values map[string][]string) (EventQuery, error) {
	get := func(key string) string {
		if vs := values[key]; len(vs) > 0 {
			return vs[0]
		}
		return ""
	}

	var q EventQuery
	if raw := get("chain_id"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return EventQuery{}, err
			}
			q.ChainIDs = append(q.ChainIDs, id)
		}
	}
	if raw := get("blocks"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return EventQuery{}, err
		}
		q.Blocks = &n
	}
	if raw := get("hours"); raw != "" {
		h, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return EventQuery{}, err
		}
		q.Hours = &h
	}
	if raw := get("contract"); raw != "" {
		q.Contract = &raw
	}
	if raw := get("event_type"); raw != "" {
		t := EventType(raw)
		q.EventType = &t
	}
	if raw := get("category"); raw != "" {
		c := Category(raw)
		q.Category = &c
	}
	if raw := get("agent_id"); raw != "" {
		q.AgentID = &raw
	}
	if raw := get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return EventQuery{}, err
		}
		q.Limit = n
	}
	if raw := get("offset"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return EventQuery{}, err
		}
		q.Offset = n
	}
	return q, nil
}

func (a *API) handleGetChains(w http.ResponseWriter, r *http.Request) {
	chains, err := a.storage.GetEnabledChains(r.Context())
	if err != nil {
		a.log.WithError(err).Error("get_enabled_chains failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, chains)
}

type chainStatsEntry struct {
	ChainID      uint64 `json:"chain_id"`
	PollingRate  int    `json:"polling_rate"`
	CurrentBlock uint64 `json:"current_block"`
}

type statsResponse struct {
	Chains        []chainStatsEntry `json:"chains"`
	CacheSize     int               `json:"cache_size"`
	CacheMaxSize  int               `json:"cache_max_size"`
}

func (a *API) handleGetStats(w http.ResponseWriter, r *http.Request) {
	chains, err := a.storage.GetEnabledChains(r.Context())
	if err != nil {
		a.log.WithError(err).Error("failed to list chains for stats")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	entries := make([]chainStatsEntry, 0, len(chains))
	for _, c := range chains {
		entries = append(entries, chainStatsEntry{
			ChainID:      c.ChainID,
			PollingRate:  a.stats.GetPollingRate(c.ChainID),
			CurrentBlock: a.stats.GetCurrentBlock(c.ChainID),
		})
	}

	size, max := a.storage.CacheStats()
	writeJSON(w, http.StatusOK, statsResponse{Chains: entries, CacheSize: size, CacheMaxSize: max})
}

// handleStream upgrades to a websocket connection and relays events from the broadcast bus to
// the client until the connection closes or the subscription is dropped.
func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ch, unsubscribe := a.bus.Subscribe()
	defer unsubscribe()

	conn.SetReadDeadline(time.Now().Add(time.Minute))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(time.Minute))
		return nil
	})
	go drainClientReads(conn)

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drainClientReads discards any client-sent frames so the connection's read deadline keeps
// advancing via the pong handler; this endpoint is output-only from the server's perspective.
func drainClientReads(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
