// Package seed provisions a development organization populated with
// sample members, a connection, and a published workflow, so a fresh
// environment has something to look at without driving the UI by hand.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/orchestra/internal/auth"
	"github.com/wisbric/orchestra/internal/crypto"
	"github.com/wisbric/orchestra/internal/db"
	"github.com/wisbric/orchestra/internal/organization"
	"github.com/wisbric/orchestra/pkg/connection"
)

// DevAPIKey is the raw API key seeded for development/testing.
// It is only created by the seed command and should never be used in production.
const DevAPIKey = "orc_key_dev_seed_do_not_use_in_production"

const demoWorkflowGraph = `{
	"nodes": [
		{"id": "trigger", "type": "trigger", "appId": "webhook", "op": "receive", "params": {}},
		{"id": "notify", "type": "action", "appId": "http", "op": "request", "params": {
			"url": "{{nodes.trigger.output.url}}",
			"method": "POST"
		}}
	],
	"edges": [
		{"from": "trigger", "to": "notify"}
	]
}`

// Run provisions the "acme" development organization and populates it with
// sample members, a connection, and a published workflow. It is
// idempotent: if the organization already exists it logs a message and
// returns nil.
func Run(ctx context.Context, pool *pgxpool.Pool, cryptoSvc *crypto.Service, databaseURL, migrationsDir string, logger *slog.Logger) error {
	prov := &organization.Provisioner{
		DB:            pool,
		DatabaseURL:   databaseURL,
		MigrationsDir: migrationsDir,
		Logger:        logger,
	}

	q := db.New(pool)
	if _, err := q.GetOrganizationBySlug(ctx, "acme"); err == nil {
		logger.Info("seed: organization 'acme' already exists, skipping")
		return nil
	}

	info, err := prov.Provision(ctx, "Acme Corp", "acme", "free", json.RawMessage(`{}`))
	if err != nil {
		return fmt.Errorf("provisioning seed organization: %w", err)
	}
	logger.Info("seed: provisioned organization", "organization_id", info.ID, "slug", info.Slug)

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", info.Schema)); err != nil {
		return fmt.Errorf("setting search_path: %w", err)
	}
	oq := db.New(conn)

	owner, err := oq.CreateMember(ctx, db.CreateMemberParams{
		ExternalID:  "oidc|alice",
		Email:       "alice@acme.example.com",
		DisplayName: "Alice Engineer",
		Role:        auth.RoleOwner,
	})
	if err != nil {
		return fmt.Errorf("creating member alice: %w", err)
	}
	logger.Info("seed: created member", "member", owner.DisplayName, "id", owner.ID)

	member2, err := oq.CreateMember(ctx, db.CreateMemberParams{
		ExternalID:  "oidc|bob",
		Email:       "bob@acme.example.com",
		DisplayName: "Bob Operator",
		Role:        auth.RoleMember,
	})
	if err != nil {
		return fmt.Errorf("creating member bob: %w", err)
	}
	logger.Info("seed: created member", "member", member2.DisplayName, "id", member2.ID)

	connSvc := connection.NewService(conn, cryptoSvc, nil, nil, logger, false, "")
	httpConn, err := connSvc.Create(ctx, connection.CreateRequest{
		UserID:      owner.ID,
		Provider:    "http",
		Type:        "api_key",
		Name:        "demo-http-endpoint",
		Credentials: connection.Credentials{"apiKey": "demo-credential-do-not-use"},
	})
	if err != nil {
		return fmt.Errorf("creating demo connection: %w", err)
	}
	logger.Info("seed: created connection", "connection", httpConn.Name, "id", httpConn.ID)

	workflow, err := oq.CreateWorkflow(ctx, db.CreateWorkflowParams{
		Name:        "demo-webhook-relay",
		Description: strPtr("Relays an inbound webhook to an HTTP endpoint"),
		Graph:       json.RawMessage(demoWorkflowGraph),
		CreatedBy:   &owner.ID,
	})
	if err != nil {
		return fmt.Errorf("creating demo workflow: %w", err)
	}
	logger.Info("seed: created workflow", "workflow", workflow.Name, "id", workflow.ID)

	version, err := oq.CreateWorkflowVersion(ctx, db.CreateWorkflowVersionParams{
		WorkflowID:    workflow.ID,
		VersionNumber: 1,
		Graph:         workflow.Graph,
		CreatedBy:     &owner.ID,
	})
	if err != nil {
		return fmt.Errorf("creating demo workflow version: %w", err)
	}

	if _, err := oq.PublishWorkflowVersion(ctx, db.PublishWorkflowVersionParams{ID: version.ID, PublishedBy: &owner.ID}); err != nil {
		return fmt.Errorf("publishing demo workflow version: %w", err)
	}

	if _, err := oq.CreateWorkflowDeployment(ctx, db.CreateWorkflowDeploymentParams{
		WorkflowID:  workflow.ID,
		VersionID:   version.ID,
		Environment: "production",
		DeployedBy:  &owner.ID,
	}); err != nil {
		return fmt.Errorf("deploying demo workflow version: %w", err)
	}
	logger.Info("seed: published and deployed workflow version", "workflow", workflow.Name, "version", version.VersionNumber)

	webhookID := "demo-webhook-relay"
	if _, err := oq.CreateWebhookTrigger(ctx, db.CreateWebhookTriggerParams{
		WebhookID:  webhookID,
		WorkflowID: workflow.ID,
		AppID:      "webhook",
		TriggerID:  "receive",
		Provider:   "generic",
	}); err != nil {
		return fmt.Errorf("registering demo webhook trigger: %w", err)
	}
	if err := oq.CreateWebhookRoute(ctx, webhookID, info.ID); err != nil {
		return fmt.Errorf("registering demo webhook route: %w", err)
	}
	logger.Info("seed: registered webhook trigger", "webhook_id", webhookID)

	apiKeyHash := auth.HashAPIKey(DevAPIKey)
	apiKey, err := q.CreateAPIKey(ctx, db.CreateAPIKeyParams{
		OrganizationID: info.ID,
		KeyHash:        apiKeyHash,
		KeyPrefix:      DevAPIKey[:16],
		Role:           auth.RoleOwner,
		Scopes:         []string{"*"},
	})
	if err != nil {
		return fmt.Errorf("creating seed API key: %w", err)
	}
	logger.Info("seed: created API key", "id", apiKey.ID, "prefix", apiKey.KeyPrefix, "raw_key", DevAPIKey)

	logger.Info("seed: completed successfully",
		"organization", info.Slug,
		"members", 2,
		"connections", 1,
		"workflows", 1,
		"api_keys", 1,
	)
	return nil
}

func strPtr(s string) *string { return &s }
