// Package projector implements the relational projection service (spec.md
// §4.9): tails the commit-event stream and rebuilds a queryable relational
// view, one atomic database transaction per event, tracking the last
// applied offset in a single-row ledgersync table for crash recovery.
// Grounded on the teacher's Postgres store
// (packages/com.r3e.services.confidential/store_postgres.go): plain
// database/sql, $N placeholders, no ORM.
package projector

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/chronicle-ledger/chronicle/internal/eventstream"
	"github.com/chronicle-ledger/chronicle/internal/identity"
	"github.com/chronicle-ledger/chronicle/internal/logging"
	"github.com/chronicle-ledger/chronicle/internal/prov"
	"github.com/chronicle-ledger/chronicle/internal/wire"

	cherrors "github.com/chronicle-ledger/chronicle/internal/errors"
)

// Projector consumes commit events in strict offset order and applies each
// one's operations to the relational schema inside a single transaction.
type Projector struct {
	db     *sql.DB
	stream *eventstream.Stream
	logger *logging.Logger
}

// New returns a Projector writing to db and reading events from stream.
// stream's handler registration happens here; callers still own Start/Stop.
func New(db *sql.DB, stream *eventstream.Stream, logger *logging.Logger) *Projector {
	if logger == nil {
		logger = logging.NewFromEnv("projector")
	}
	p := &Projector{db: db, stream: stream, logger: logger}
	stream.On(p.handleEvent)
	return p
}

// StoredOffset reads the last-applied offset from ledgersync.
func (p *Projector) StoredOffset(ctx context.Context) (uint64, error) {
	var offset uint64
	row := p.db.QueryRowContext(ctx, `SELECT offset_value FROM ledgersync WHERE id = 1`)
	if err := row.Scan(&offset); err != nil {
		return 0, err
	}
	return offset, nil
}

// handleEvent is the eventstream.Handler registered on construction. It
// decodes the wire commit event, applies its operations, and advances
// ledgersync — all inside one transaction (spec.md §4.9 steps 1-3).
func (p *Projector) handleEvent(ctx context.Context, event eventstream.CommitEvent) error {
	var ce wire.CommitEvent
	if err := json.Unmarshal(event.Payload, &ce); err != nil {
		return cherrors.UnparseablePayload(err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var stored uint64
	row := tx.QueryRowContext(ctx, `SELECT offset_value FROM ledgersync WHERE id = 1 FOR UPDATE`)
	if err := row.Scan(&stored); err != nil {
		return err
	}

	if ce.Offset <= stored {
		// Duplicate: discard without error (spec.md §4.9 step 4, idempotence
		// requirement). The transaction is rolled back; nothing changes.
		p.logger.WithFields(map[string]interface{}{
			"tx_id": ce.TxID, "offset": ce.Offset, "stored_offset": stored,
		}).Debug("discarding duplicate event")
		return nil
	}
	if ce.Offset > stored+1 {
		// Out of order: rewind the stream to resume from stored+1 and
		// discard this delivery (spec.md §4.9 step 5).
		p.stream.SetCursor(stored)
		p.logger.WithFields(map[string]interface{}{
			"tx_id": ce.TxID, "offset": ce.Offset, "stored_offset": stored,
		}).Warn("out-of-order event, re-subscribing")
		return cherrors.OutOfOrderEvent(ce.Offset, stored+1)
	}

	for _, op := range ce.Operations {
		if err := applyOperation(ctx, tx, op); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE ledgersync SET offset_value = $1, correlation_id = $2, updated_at = now() WHERE id = 1
	`, ce.Offset, ce.TxID); err != nil {
		return cherrors.DatabaseConflict(err)
	}

	if err := tx.Commit(); err != nil {
		return cherrors.DatabaseConflict(err)
	}
	return nil
}

// applyOperation projects a single provenance operation's effect onto the
// relational schema. Each case is idempotent: re-applying the same
// operation (e.g. on projector restart after a partial batch) leaves the
// row set unchanged, matching the ProvModel's own idempotent-additive
// semantics (spec.md §3 invariant 3).
func applyOperation(ctx context.Context, tx *sql.Tx, op prov.Operation) error {
	switch v := op.(type) {
	case prov.CreateNamespace:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO namespace (iri, name, uuid) VALUES ($1, $2, $3)
			ON CONFLICT (iri) DO NOTHING
		`, v.Namespace.IRI(), v.Namespace.Name, v.Namespace.UUID.String())
		return err

	case prov.AgentExists:
		id := v.ID()
		domainType := domainTypeString(v.DomainType)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO agent (iri, namespace_iri, external_id, domain_type)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (iri) DO UPDATE SET
				domain_type = COALESCE(agent.domain_type, EXCLUDED.domain_type)
		`, id.IRI(), v.Namespace.IRI(), v.ExternalID, domainType)
		return err

	case prov.ActivityExists:
		id := v.ID()
		domainType := domainTypeString(v.DomainType)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO activity (iri, namespace_iri, external_id, domain_type)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (iri) DO UPDATE SET
				domain_type = COALESCE(activity.domain_type, EXCLUDED.domain_type)
		`, id.IRI(), v.Namespace.IRI(), v.ExternalID, domainType)
		return err

	case prov.EntityExists:
		id := v.ID()
		domainType := domainTypeString(v.DomainType)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO entity (iri, namespace_iri, external_id, domain_type)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (iri) DO UPDATE SET
				domain_type = COALESCE(entity.domain_type, EXCLUDED.domain_type)
		`, id.IRI(), v.Namespace.IRI(), v.ExternalID, domainType)
		return err

	case prov.ActsOnBehalfOf:
		// Delegate, Responsible, and (if present) Activity are already
		// canonical IRIs: ProvModel.Apply looks agents up by this exact
		// string (model.go's RegisterKey/WasAssociatedWith cases), so the
		// projection must key on the same IRIs, not re-derive them.
		_, err := tx.ExecContext(ctx, `
			INSERT INTO delegation (delegate_iri, responsible_iri, activity_iri, role)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING
		`, v.Delegate, v.Responsible, v.Activity, v.Role)
		return err

	case prov.RegisterKey:
		identIRI := identity.IdentityID{Namespace: v.Namespace, PublicKey: v.PublicKey}.IRI()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO identity (iri, namespace_iri, public_key) VALUES ($1, $2, $3)
			ON CONFLICT (iri) DO NOTHING
		`, identIRI, v.Namespace.IRI(), v.PublicKey); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO hadidentity (agent_iri, identity_iri) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, v.Agent, identIRI); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE agent SET current_identity = $2 WHERE iri = $1
		`, v.Agent, identIRI)
		return err

	case prov.WasAssociatedWith:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO association (agent_iri, activity_iri, role) VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, v.Agent, v.Activity, v.Role)
		return err

	case prov.WasAttributedTo:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO attribution (agent_iri, entity_iri, role) VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, v.Agent, v.Entity, v.Role)
		return err

	case prov.Used:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO usage (activity_iri, entity_iri) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, v.Activity, v.Entity)
		return err

	case prov.ActivityUses:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO usage (activity_iri, entity_iri) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, v.Activity, v.Entity)
		return err

	case prov.WasGeneratedBy:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO generation (entity_iri, activity_iri) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, v.Entity, v.Activity)
		return err

	case prov.WasDerivedFrom:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO derivation (generated_entity_iri, used_entity_iri, derivation_type) VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, v.GeneratedEntity, v.UsedEntity, int(v.DerivationType))
		return err

	case prov.WasInformedBy:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO wasinformedby (activity_iri, informing_activity_iri) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, v.Activity, v.InformingActivity)
		return err

	case prov.StartActivity:
		_, err := tx.ExecContext(ctx, `
			UPDATE activity SET started_at = $2 WHERE iri = $1
		`, v.Activity, v.Time.UTC())
		return err

	case prov.EndActivity:
		_, err := tx.ExecContext(ctx, `
			UPDATE activity SET ended_at = $2 WHERE iri = $1
		`, v.Activity, v.Time.UTC())
		return err

	case prov.SetAttributes:
		return applySetAttributes(ctx, tx, v)

	case prov.WasAssociatedWithAttachment:
		return applyAttachment(ctx, tx, v)

	default:
		return cherrors.UnknownKind(string(op.Kind()))
	}
}

func applySetAttributes(ctx context.Context, tx *sql.Tx, v prov.SetAttributes) error {
	var table, column string
	switch v.TargetKind {
	case identity.KindAgent:
		table, column = "agent_attribute", "agent_iri"
	case identity.KindActivity:
		table, column = "activity_attribute", "activity_iri"
	case identity.KindEntity:
		table, column = "entity_attribute", "entity_iri"
	default:
		return cherrors.UnknownKind(string(v.TargetKind))
	}

	subjectIRI := subjectIRIFor(v.TargetKind, v.Namespace, v.ExternalID)
	for typename, raw := range v.Attributes {
		valueJSON, err := json.Marshal(raw)
		if err != nil {
			return err
		}
		query := `INSERT INTO ` + table + ` (` + column + `, typename, value) VALUES ($1, $2, $3)
			ON CONFLICT (` + column + `, typename) DO UPDATE SET value = EXCLUDED.value`
		if _, err := tx.ExecContext(ctx, query, subjectIRI, typename, valueJSON); err != nil {
			return err
		}
	}
	return nil
}

func applyAttachment(ctx context.Context, tx *sql.Tx, v prov.WasAssociatedWithAttachment) error {
	// Signer and Entity are already canonical IRIs (ProvModel.Apply parses
	// Signer with identity.ParseIRI and looks Entity up directly), not raw
	// key material or external ids.
	attachmentID := identity.AttachmentID{Namespace: v.Namespace, Signature: v.Signature}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO attachment (iri, namespace_iri, signer_iri, signature, signature_time, locator)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (iri) DO NOTHING
	`, attachmentID.IRI(), v.Namespace.IRI(), v.Signer, v.Signature, v.SignatureTime.UTC(), v.Locator); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO hadattachment (entity_iri, attachment_iri) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, v.Entity, attachmentID.IRI())
	return err
}

func subjectIRIFor(kind identity.Kind, ns identity.NamespaceID, externalID string) string {
	switch kind {
	case identity.KindAgent:
		return agentIRI(ns, externalID)
	case identity.KindActivity:
		return activityIRI(ns, externalID)
	default:
		return entityIRI(ns, externalID)
	}
}

func agentIRI(ns identity.NamespaceID, externalID string) string {
	return identity.AgentID{Namespace: ns, ExternalID: externalID}.IRI()
}

func activityIRI(ns identity.NamespaceID, externalID string) string {
	return identity.ActivityID{Namespace: ns, ExternalID: externalID}.IRI()
}

func entityIRI(ns identity.NamespaceID, externalID string) string {
	return identity.EntityID{Namespace: ns, ExternalID: externalID}.IRI()
}

func domainTypeString(dt *identity.DomainTypeID) interface{} {
	if dt == nil {
		return nil
	}
	return dt.TypeName
}
