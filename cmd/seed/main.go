// seed inserts a development organization with an owner, an administrator and a viewer, plus a newcomer
// account that can receive the organization. Idempotent: skips when the dev owner already exists.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"org-access-core/internal/audit"
	auditdomain "org-access-core/internal/audit/domain"
	auditrepo "org-access-core/internal/audit/repository"
	"org-access-core/internal/config"
	"org-access-core/internal/db"
	mdomain "org-access-core/internal/membership/domain"
	membershiprepo "org-access-core/internal/membership/repository"
	orgdomain "org-access-core/internal/organization/domain"
	orgrepo "org-access-core/internal/organization/repository"
	userdomain "org-access-core/internal/user/domain"
	userrepo "org-access-core/internal/user/repository"
)

const (
	devOrgID    = "dev-org-001"
	devOwnerID  = "dev-owner-001"
	devAdminID  = "dev-admin-001"
	devViewerID = "dev-viewer-001"
	devNewbieID = "dev-newbie-001"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	users := userrepo.NewPostgresRepository(conn)
	orgs := orgrepo.NewPostgresRepository(conn)
	members := membershiprepo.NewPostgresRepository(conn)
	writer := audit.NewWriter(auditrepo.NewPostgresRepository(conn))

	existing, err := users.GetByID(ctx, devOwnerID)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Println("Seed already applied (dev owner exists). Skipping.")
		return
	}

	now := time.Now().UTC()
	accounts := []struct {
		id      string
		email   string
		created time.Time
	}{
		{devOwnerID, "owner@example.com", now.AddDate(-2, 0, 0)},
		{devAdminID, "admin@example.com", now.AddDate(-1, 0, 0)},
		{devViewerID, "viewer@example.com", now.AddDate(0, -6, 0)},
		{devNewbieID, "newbie@example.com", now.AddDate(0, 0, -30)},
	}
	for _, a := range accounts {
		u := &userdomain.User{ID: a.id, Email: a.email, Status: userdomain.UserStatusActive, CreatedAt: a.created}
		if err := users.Create(ctx, u); err != nil {
			log.Fatalf("create user %s: %v", a.id, err)
		}
	}

	if err := orgs.CreateOrganization(ctx, &orgdomain.Org{
		ID:        devOrgID,
		Name:      "Acme Dev",
		OwnerID:   devOwnerID,
		Status:    orgdomain.OrgStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		log.Fatalf("create org: %v", err)
	}

	for _, m := range []struct {
		userID string
		role   mdomain.Role
	}{
		{devAdminID, mdomain.RoleAdministrator},
		{devViewerID, mdomain.RoleViewer},
	} {
		if err := members.CreateMembership(ctx, &mdomain.Membership{
			ID:        fmt.Sprintf("%s-%s", devOrgID, m.userID),
			UserID:    m.userID,
			OrgID:     devOrgID,
			Role:      m.role,
			Status:    mdomain.StatusActive,
			InvitedBy: devOwnerID,
			JoinedAt:  now,
			UpdatedAt: now,
		}); err != nil {
			log.Fatalf("create membership %s: %v", m.userID, err)
		}
		if _, err := writer.Append(ctx, &auditdomain.Entry{
			ActorUserID:    devOwnerID,
			OrgID:          devOrgID,
			EventType:      auditdomain.EventMembershipChanged,
			TargetResource: "membership/" + m.userID,
			Decision:       auditdomain.DecisionAllowed,
			Metadata:       map[string]string{"change": "added", "role": string(m.role), "source": "seed"},
		}); err != nil {
			log.Printf("seed: audit membership %s: %v", m.userID, err)
		}
	}

	log.Println("Seed completed successfully.")
	fmt.Printf("Organization %s owned by %s; transfer target: %s\n", devOrgID, devOwnerID, devNewbieID)
}
