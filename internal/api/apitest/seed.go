package apitest

import (
	"time"

	"github.com/labelhub/supportdesk/internal/models"
)

// SeedDemo loads a handful of tickets covering every status, for local use
// of the fake API.
func (s *Server) SeedDemo() {
	s.mu.Lock()
	now := s.now().UTC()
	s.mu.Unlock()

	at := func(d time.Duration) time.Time { return now.Add(-d) }
	readAt := at(2 * time.Hour)
	agentAt := at(3 * time.Hour)
	archivedAt := at(24 * time.Hour)

	s.AddTicket(models.Ticket{
		ID:            "1001",
		UserID:        "artist-1",
		Subject:       "Payout for March has not arrived",
		Status:        models.TicketStatusOpen,
		Category:      "payouts",
		UserEmail:     "nova@example.com",
		UserNickname:  "nova",
		UserTelegram:  "@nova_beats",
		CreatedAt:     at(26 * time.Hour),
		LastMessageAt: at(20 * time.Minute),
		Transaction: &models.TransactionSummary{
			ID: "tx-881", Type: "payout", Amount: 412.50, Status: "processing", CreatedAt: at(72 * time.Hour),
		},
		Messages: []models.Message{
			{ID: "m-1001-1", SenderID: "artist-1", SenderNickname: "nova", Body: "Hi! My March payout still shows as processing.", CreatedAt: at(26 * time.Hour)},
			{ID: "m-1001-2", SenderID: "artist-1", SenderNickname: "nova", Body: "Any update? It has been three days.", CreatedAt: at(20 * time.Minute)},
		},
	})

	s.AddTicket(models.Ticket{
		ID:                 "1002",
		UserID:             "artist-2",
		Subject:            "Release stuck in review",
		Status:             models.TicketStatusInProgress,
		Category:           "releases",
		UserEmail:          "skyline@example.com",
		UserNickname:       "skyline",
		CreatedAt:          at(6 * time.Hour),
		LastMessageAt:      agentAt,
		LastAdminMessageAt: &agentAt,
		AdminReadAt:        &readAt,
		Release: &models.ReleaseSummary{
			ID: "rel-77", Artist: "Skyline", Title: "Night Drive", Status: "review", CreatedAt: at(240 * time.Hour),
		},
		Messages: []models.Message{
			{ID: "m-1002-1", SenderID: "artist-2", SenderNickname: "skyline", Body: "Night Drive has been in review for a week.", CreatedAt: at(6 * time.Hour)},
			{ID: "m-1002-2", SenderID: s.cfg.Actor.ID, SenderNickname: s.cfg.Actor.Nickname, IsAdmin: true, Body: "Checking with the review team now.", ReplyToID: "m-1002-1", CreatedAt: agentAt},
		},
	})

	s.AddTicket(models.Ticket{
		ID:            "1003",
		UserID:        "artist-3",
		Subject:       "Need the ISRC codes for my EP",
		Status:        models.TicketStatusPending,
		UserEmail:     "lumen@example.com",
		CreatedAt:     at(48 * time.Hour),
		LastMessageAt: at(47 * time.Hour),
		AdminReadAt:   &readAt,
		Messages: []models.Message{
			{ID: "m-1003-1", SenderID: "artist-3", SenderEmail: "lumen@example.com", Body: "Where can I find the ISRC codes?", CreatedAt: at(48 * time.Hour)},
			{ID: "m-1003-2", SenderID: s.cfg.Actor.ID, SenderNickname: s.cfg.Actor.Nickname, IsAdmin: true, Body: "They will be on the release page once it is approved.", CreatedAt: at(47 * time.Hour)},
		},
	})

	s.AddTicket(models.Ticket{
		ID:            "1004",
		UserID:        "artist-1",
		Subject:       "Change of bank details",
		Status:        models.TicketStatusClosed,
		UserNickname:  "nova",
		CreatedAt:     at(96 * time.Hour),
		LastMessageAt: at(25 * time.Hour),
		AdminReadAt:   &readAt,
		ArchivedAt:    &archivedAt,
		Messages: []models.Message{
			{ID: "m-1004-1", SenderID: "artist-1", SenderNickname: "nova", Body: "I updated my bank details, thanks!", CreatedAt: at(25 * time.Hour)},
		},
	})
}
