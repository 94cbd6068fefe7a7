// Package apitest is an in-memory fake of the support ticket API. Tests run
// it behind httptest; `supportdesk mock-api` serves it for local use.
package apitest

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/labelhub/supportdesk/internal/models"
)

// Route names used for fault injection and call counting. They match gin's
// registered paths.
const (
	RouteListTickets    = "GET /api/support/tickets"
	RouteMarkRead       = "POST /api/support/tickets/:id/read"
	RouteUpdateTicket   = "PATCH /api/support/tickets/:id"
	RouteSendMessage    = "POST /api/support/tickets/:id/messages"
	RouteDeleteMessage  = "DELETE /api/admin/tickets/:id/messages/:messageId"
	RouteToggleReaction = "POST /api/admin/tickets/:id/messages/:messageId/reactions"
	RouteGetTyping      = "GET /api/support/tickets/:id/typing"
	RouteSetTyping      = "POST /api/support/tickets/:id/typing"
	RouteUpload         = "POST /api/support/upload"
)

// DefaultTypingTTL is how long a stored typing flag stays readable.
const DefaultTypingTTL = 4 * time.Second

// Actor is the identity every authenticated request acts as.
type Actor struct {
	ID       string
	Nickname string
	Avatar   string
	IsAdmin  bool
}

// Config configures a Server.
type Config struct {
	// Token, when set, is required as "Bearer <token>" on every request.
	Token string

	// Actor is the caller identity. Defaults to an admin named "support".
	Actor Actor

	// MaxUploadBytes limits attachments. Defaults to 10 MiB.
	MaxUploadBytes int64

	// TypingTTL expires typing flags. Defaults to DefaultTypingTTL.
	TypingTTL time.Duration

	// PublicURL prefixes upload URLs. Defaults to the request host.
	PublicURL string
}

type typingEntry struct {
	state models.TypingState
	at    time.Time
}

type fault struct {
	status int
	body   string
	raw    bool
}

// Server holds fake ticket state behind a gin router.
type Server struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	tickets  map[string]*models.Ticket
	typing   map[string]typingEntry
	uploads  map[string]upload
	faults   map[string][]fault
	calls    map[string]int
	requests []string

	engine *gin.Engine
}

type upload struct {
	contentType string
	data        []byte
}

// NewServer creates an empty fake API.
func NewServer(cfg Config) *Server {
	if cfg.Actor.ID == "" {
		cfg.Actor = Actor{ID: "agent-1", Nickname: "support", IsAdmin: true}
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = DefaultTypingTTL
	}

	s := &Server{
		cfg:     cfg,
		now:     time.Now,
		tickets: make(map[string]*models.Ticket),
		typing:  make(map[string]typingEntry),
		uploads: make(map[string]upload),
		faults:  make(map[string][]fault),
		calls:   make(map[string]int),
	}
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler serving the fake API.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/uploads/:name", s.serveUpload)

	authed := r.Group("/api", s.track, s.authenticate, s.injectFaults)
	support := authed.Group("/support")
	{
		support.GET("/tickets", s.listTickets)
		support.POST("/tickets/:id/read", s.markRead)
		support.PATCH("/tickets/:id", s.updateTicket)
		support.POST("/tickets/:id/messages", s.sendMessage)
		support.GET("/tickets/:id/typing", s.getTyping)
		support.POST("/tickets/:id/typing", s.setTyping)
		support.POST("/upload", s.upload)
	}
	admin := authed.Group("/admin", s.requireAdmin)
	{
		admin.DELETE("/tickets/:id/messages/:messageId", s.deleteMessage)
		admin.POST("/tickets/:id/messages/:messageId/reactions", s.toggleReaction)
	}
	return r
}

// SetClock replaces the server clock.
func (s *Server) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// AddTicket stores or replaces a ticket.
func (s *Server) AddTicket(ticket models.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := ticket.Clone()
	if t.Status == "" {
		t.Status = models.TicketStatusOpen
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now().UTC()
	}
	for i := range t.Messages {
		t.Messages[i].TicketID = t.ID
	}
	s.tickets[t.ID] = &t
}

// PostAsOwner appends a message from the ticket owner, as if they wrote
// between polls. It returns the stored message.
func (s *Server) PostAsOwner(ticketID, body string) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketID]
	if !ok {
		return models.Message{}, false
	}
	now := s.now().UTC()
	msg := models.Message{
		ID:             uuid.NewString(),
		TicketID:       ticketID,
		SenderID:       t.UserID,
		Body:           body,
		Images:         []string{},
		CreatedAt:      now,
		SenderEmail:    t.UserEmail,
		SenderNickname: t.UserNickname,
	}
	t.Messages = append(t.Messages, msg)
	t.LastMessageAt = now
	t.UpdatedAt = now
	return msg.Clone(), true
}

// SetTypingState stores a typing flag for the role in state.IsAdmin, as if
// that side of the conversation sent it.
func (s *Server) SetTypingState(ticketID string, state models.TypingState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing[typingKey(ticketID, state.IsAdmin)] = typingEntry{state: state, at: s.now()}
}

// TypingFrom returns the unexpired flag last stored by one side of a ticket.
func (s *Server) TypingFrom(ticketID string, isAdmin bool) (models.TypingState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.typing[typingKey(ticketID, isAdmin)]
	if !ok || s.now().Sub(entry.at) > s.cfg.TypingTTL {
		return models.TypingState{}, false
	}
	return entry.state, true
}

func typingKey(ticketID string, isAdmin bool) string {
	if isAdmin {
		return ticketID + "/admin"
	}
	return ticketID + "/user"
}

// Ticket returns a copy of a stored ticket.
func (s *Server) Ticket(id string) (models.Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return models.Ticket{}, false
	}
	return t.Clone(), true
}

// Fail makes the next call to route answer with status and an {"error": msg} body.
func (s *Server) Fail(route string, status int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[route] = append(s.faults[route], fault{status: status, body: msg})
}

// FailRaw makes the next call to route answer with status and a verbatim body.
func (s *Server) FailRaw(route string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[route] = append(s.faults[route], fault{status: status, body: body, raw: true})
}

// Calls reports how many requests reached route.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// RequestIDs returns the X-Request-ID of every request seen so far.
func (s *Server) RequestIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func routeKey(c *gin.Context) string {
	return c.Request.Method + " " + c.FullPath()
}

func (s *Server) track(c *gin.Context) {
	s.mu.Lock()
	s.calls[routeKey(c)]++
	s.requests = append(s.requests, c.GetHeader("X-Request-ID"))
	s.mu.Unlock()
	c.Next()
}

func (s *Server) authenticate(c *gin.Context) {
	if s.cfg.Token == "" {
		c.Next()
		return
	}
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if token == "" || token != s.cfg.Token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	c.Next()
}

func (s *Server) requireAdmin(c *gin.Context) {
	if !s.cfg.Actor.IsAdmin {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden - Admin only"})
		return
	}
	c.Next()
}

func (s *Server) injectFaults(c *gin.Context) {
	key := routeKey(c)
	s.mu.Lock()
	queue := s.faults[key]
	var f *fault
	if len(queue) > 0 {
		f = &queue[0]
		s.faults[key] = queue[1:]
	}
	s.mu.Unlock()

	if f == nil {
		c.Next()
		return
	}
	if f.raw {
		c.Data(f.status, "application/json", []byte(f.body))
		c.Abort()
		return
	}
	c.AbortWithStatusJSON(f.status, gin.H{"error": f.body})
}

func (s *Server) listTickets(c *gin.Context) {
	s.mu.Lock()
	out := make([]models.Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		out = append(out, t.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	c.JSON(http.StatusOK, gin.H{"tickets": out})
}

func (s *Server) markRead(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Ticket not found"})
		return
	}
	now := s.now().UTC()
	t.AdminReadAt = &now
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) updateTicket(c *gin.Context) {
	var req models.TicketUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if err := models.ValidateStatusChange(c.Param("id"), req.Status); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Ticket not found"})
		return
	}
	t.Status = req.Status
	t.ArchivedAt = req.ArchivedAt
	t.UpdatedAt = s.now().UTC()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) sendMessage(c *gin.Context) {
	var req models.NewMessage
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Ticket not found"})
		return
	}

	now := s.now().UTC()
	images := req.Images
	if images == nil {
		images = []string{}
	}
	msg := models.Message{
		ID:             uuid.NewString(),
		TicketID:       t.ID,
		SenderID:       s.cfg.Actor.ID,
		IsAdmin:        s.cfg.Actor.IsAdmin,
		Body:           strings.TrimSpace(req.Body),
		Images:         append([]string(nil), images...),
		CreatedAt:      now,
		SenderNickname: s.cfg.Actor.Nickname,
		SenderAvatar:   s.cfg.Actor.Avatar,
	}
	if req.ReplyToID != nil {
		msg.ReplyToID = *req.ReplyToID
		if i := t.MessageIndex(*req.ReplyToID); i >= 0 {
			preview := t.Messages[i].Preview()
			msg.ReplyTo = &preview
		}
	}

	t.Messages = append(t.Messages, msg)
	t.LastMessageAt = now
	t.UpdatedAt = now
	if msg.IsAdmin {
		t.LastAdminMessageAt = &now
	}
	c.JSON(http.StatusOK, gin.H{"message": msg.Clone()})
}

func (s *Server) deleteMessage(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Ticket not found"})
		return
	}
	i := t.MessageIndex(c.Param("messageId"))
	if i < 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Message not found"})
		return
	}
	t.Messages = append(t.Messages[:i], t.Messages[i+1:]...)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) toggleReaction(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Ticket not found"})
		return
	}
	i := t.MessageIndex(c.Param("messageId"))
	if i < 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Message not found"})
		return
	}

	msg := &t.Messages[i]
	actor := s.cfg.Actor
	if msg.HasReactionFrom(actor.ID) {
		kept := msg.Reactions[:0]
		for _, r := range msg.Reactions {
			if r.UserID != actor.ID {
				kept = append(kept, r)
			}
		}
		msg.Reactions = kept
		c.JSON(http.StatusOK, gin.H{"success": true, "removed": true})
		return
	}

	reaction := models.Reaction{
		ID:        uuid.NewString(),
		MessageID: msg.ID,
		UserID:    actor.ID,
		Emoji:     models.DefaultReaction,
		CreatedAt: s.now().UTC(),
		User:      &models.ReactionActor{Nickname: actor.Nickname, Avatar: actor.Avatar},
	}
	msg.Reactions = append(msg.Reactions, reaction)
	c.JSON(http.StatusOK, gin.H{"success": true, "reaction": reaction.Clone()})
}

// getTyping answers with the counterpart's flag: the owner's for an agent.
func (s *Server) getTyping(c *gin.Context) {
	state, ok := s.TypingFrom(c.Param("id"), !s.cfg.Actor.IsAdmin)
	if !ok {
		c.JSON(http.StatusOK, models.TypingState{})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) setTyping(c *gin.Context) {
	var req models.TypingState
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if req.Username == "" {
		req.Username = s.cfg.Actor.Nickname
	}

	s.SetTypingState(c.Param("id"), req)
	c.JSON(http.StatusOK, gin.H{"success": true})
}
