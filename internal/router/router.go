// ABOUTME: Event router that applies client actions and observer events to the registry
// ABOUTME: Fans full snapshots out to observers and unicasts scores back to clients

package router

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/2389/intake-gateway/internal/directory"
	"github.com/2389/intake-gateway/internal/ledger"
	"github.com/2389/intake-gateway/internal/protocol"
	"github.com/2389/intake-gateway/internal/session"
)

// Delivery is the outcome of a best-effort notify.
type Delivery int

const (
	// Skipped means the connection was not ready and the payload was dropped.
	Skipped Delivery = iota
	// Delivered means the payload was accepted for sending.
	Delivered
)

func (d Delivery) String() string {
	if d == Delivered {
		return "delivered"
	}
	return "skipped"
}

// Conn is a live persistent connection as seen by the router.
// Notify must not block and must not panic on a closed connection.
type Conn interface {
	ID() string
	Notify(payload []byte) Delivery
}

// Journal receives an audit entry for every mutation. Append must not block.
type Journal interface {
	Append(e ledger.Entry)
}

// Config holds the router's collaborators.
type Config struct {
	Registry  *session.Registry          // created empty when nil
	Directory *directory.Directory[Conn] // created empty when nil
	Journal   Journal                    // optional
	Logger    *slog.Logger
}

// Router serializes every inbound stimulus: the registry mutation, directory
// mutation and fan-out of one stimulus finish before the next one starts.
type Router struct {
	mu       sync.Mutex
	sessions *session.Registry
	conns    *directory.Directory[Conn]
	journal  Journal
	logger   *slog.Logger
}

// Stats is a point-in-time view used by readiness reporting.
type Stats struct {
	Sessions  int // records in the registry
	Observers int // connections registered as admin
	Clients   int // sessions with a bound client connection
}

// New creates a Router. Missing registry or directory are created empty.
func New(cfg Config) *Router {
	if cfg.Registry == nil {
		cfg.Registry = session.NewRegistry()
	}
	if cfg.Directory == nil {
		cfg.Directory = directory.New[Conn]()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Router{
		sessions: cfg.Registry,
		conns:    cfg.Directory,
		journal:  cfg.Journal,
		logger:   cfg.Logger.With("component", "router"),
	}
}

// Start creates (or silently replaces) the session and notifies observers.
func (r *Router) Start(sessionID, username, ip string) session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions.Create(sessionID, session.Fields{
		Username: &username,
		IP:       &ip,
	})
	r.logger.Info("session started", "session_id", sessionID, "ip", ip)
	r.record(ledger.ActionStart, sessionID, true, s.Status, map[string]any{"username": username, "ip": ip})
	r.broadcastLocked()
	return s
}

// AddEmail records the email step. It reports whether the session existed;
// observers are notified either way.
func (r *Router) AddEmail(sessionID, email string) bool {
	return r.update(ledger.ActionAddEmail, sessionID, session.Fields{
		Email:  &email,
		Status: statusPtr(session.StatusEmailAdded),
	}, map[string]any{"email": email})
}

// AddName records the name step.
func (r *Router) AddName(sessionID, name string) bool {
	return r.update(ledger.ActionAddName, sessionID, session.Fields{
		Name:   &name,
		Status: statusPtr(session.StatusReadyForScoring),
	}, map[string]any{"name": name})
}

// UploadImage attaches an image, replacing any previous one.
func (r *Router) UploadImage(sessionID string, img session.Image) bool {
	return r.update(ledger.ActionUploadImage, sessionID, session.Fields{
		Image:  &img,
		Status: statusPtr(session.StatusImageUploaded),
	}, map[string]any{"media_type": img.MediaType, "bytes": len(img.Data)})
}

func (r *Router) update(action ledger.Action, sessionID string, fields session.Fields, detail map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, found := r.sessions.Update(sessionID, fields)
	if !found {
		r.logger.Debug("update for unknown session", "action", action, "session_id", sessionID)
	}
	r.record(action, sessionID, found, s.Status, detail)
	r.broadcastLocked()
	return found
}

// HandleMessage decodes one inbound frame from conn and dispatches it.
// Malformed frames and unknown types are dropped without side effects.
func (r *Router) HandleMessage(conn Conn, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		r.logger.Debug("dropping inbound frame", "conn_id", conn.ID(), "error", err)
		return
	}

	switch m := msg.(type) {
	case protocol.RegisterAdmin:
		r.RegisterAdmin(conn)
	case protocol.RegisterUser:
		r.RegisterUser(conn, m.SessionID)
	case protocol.SendScore:
		r.SubmitScore(m.SessionID, m.Score)
	}
}

// RegisterAdmin marks conn as an observer and sends it the current snapshot.
func (r *Router) RegisterAdmin(conn Conn) Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns.AddObserver(conn)
	r.logger.Info("observer registered", "conn_id", conn.ID(), "observers", r.conns.Stats().Observers)

	payload, err := protocol.EncodeAllSessions(r.sessions.List())
	if err != nil {
		r.logger.Error("encoding snapshot", "error", err)
		return Skipped
	}
	return conn.Notify(payload)
}

// RegisterUser binds conn as the representative of sessionID. The session
// does not need to exist yet.
func (r *Router) RegisterUser(conn Conn, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns.BindSession(conn, sessionID)
	r.logger.Debug("client registered", "conn_id", conn.ID(), "session_id", sessionID)
}

// SubmitScore stores an operator's score, notifies the bound client if one is
// live, then fans out. It reports whether the session existed and what
// happened to the client notification.
func (r *Router) SubmitScore(sessionID string, score json.RawMessage) (bool, Delivery) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, found := r.sessions.Update(sessionID, session.Fields{
		Score:  score,
		Status: statusPtr(session.StatusScored),
	})

	delivery := Skipped
	if client, ok := r.conns.ResolveSessionConnection(sessionID); ok {
		payload, err := protocol.EncodeScore(score)
		if err != nil {
			r.logger.Error("encoding score notice", "error", err)
		} else {
			delivery = client.Notify(payload)
		}
	}

	r.logger.Info("score submitted",
		"session_id", sessionID,
		"found", found,
		"client", delivery.String(),
	)
	r.record(ledger.ActionScore, sessionID, found, s.Status, map[string]any{
		"score":  score,
		"client": delivery.String(),
	})
	r.broadcastLocked()
	return found, delivery
}

// Disconnect releases every binding held by conn. No fan-out is triggered.
func (r *Router) Disconnect(conn Conn) directory.Release {
	r.mu.Lock()
	defer r.mu.Unlock()

	rel := r.conns.ReleaseConnection(conn)
	if rel.WasObserver || len(rel.SessionIDs) > 0 {
		r.logger.Debug("connection released",
			"conn_id", conn.ID(),
			"observer", rel.WasObserver,
			"session_ids", rel.SessionIDs,
		)
	}
	return rel
}

// Session returns a copy of one session.
func (r *Router) Session(sessionID string) (session.Session, bool) {
	return r.sessions.Get(sessionID)
}

// Snapshot returns a copy of every session in creation order.
func (r *Router) Snapshot() []session.Session {
	return r.sessions.List()
}

// Stats reports registry and directory sizes.
func (r *Router) Stats() Stats {
	ds := r.conns.Stats()
	return Stats{
		Sessions:  r.sessions.Len(),
		Observers: ds.Observers,
		Clients:   ds.Bindings,
	}
}

// broadcastLocked serializes the registry once and hands the same payload to
// every observer. Returns how many observers accepted it.
func (r *Router) broadcastLocked() int {
	observers := r.conns.Observers()
	if len(observers) == 0 {
		return 0
	}

	payload, err := protocol.EncodeAllSessions(r.sessions.List())
	if err != nil {
		r.logger.Error("encoding snapshot", "error", err)
		return 0
	}

	delivered := 0
	for _, conn := range observers {
		if conn.Notify(payload) == Delivered {
			delivered++
		}
	}

	if delivered < len(observers) {
		r.logger.Debug("snapshot skipped for observers not ready",
			"observers", len(observers),
			"delivered", delivered)
	}
	return delivered
}

func (r *Router) record(action ledger.Action, sessionID string, found bool, status session.Status, detail map[string]any) {
	if r.journal == nil {
		return
	}
	r.journal.Append(ledger.Entry{
		SessionID: sessionID,
		Action:    action,
		Found:     found,
		Status:    string(status),
		Detail:    detail,
	})
}

func statusPtr(s session.Status) *session.Status {
	return &s
}
