package server

import (
	"context"

	"github.com/hashicorp/go-secure-stdlib/base62"
	"github.com/timerhsenso/sentinela/grants"
	log "github.com/timerhsenso/sentinela/logger"
	"github.com/timerhsenso/sentinela/storage"
)

// seedDevData loads a demo user and a handful of rows so the action
// endpoints can be exercised immediately in dev mode.
func seedDevData(ctx context.Context, entities *storage.EntityStore, users *storage.UserStore, logger log.Logger) error {
	if err := users.PutUser(ctx, &storage.User{Username: "admin", Active: true}); err != nil {
		return err
	}

	devGrants := []grants.Grant{
		{System: "SEG", Function: "SEG_USUARIOS", Actions: "CEDI"},
		{System: "SEG", Function: "SEG_GRUPOS", Actions: "CEDI"},
		{System: "SEG", Function: "SEG_BOTOES", Actions: "I"},
	}
	for _, g := range devGrants {
		if err := users.AddGrant(ctx, "admin", g); err != nil {
			return err
		}
	}

	for i := 0; i < 5; i++ {
		key, err := base62.Random(8)
		if err != nil {
			return err
		}
		row := &storage.Row{
			System:   "SEG",
			Function: "SEG_USUARIOS",
			Key:      key,
			Label:    "demo user " + key,
			Active:   i%2 == 0,
		}
		if err := entities.Put(ctx, row); err != nil {
			return err
		}
	}

	logger.Info("dev data seeded",
		log.String("username", "admin"),
		log.Int("grants", len(devGrants)),
		log.Int("rows", 5))

	return nil
}
