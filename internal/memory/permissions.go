package memory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// GrantPermission adds (or merges) the given actions for an agent on a
// record and persists the change. Returns false when the record does
// not exist.
func (s *Service) GrantPermission(ctx context.Context, id, agentID string, actions []Action) (bool, error) {
	if agentID == "" || len(actions) == 0 {
		return false, fmt.Errorf("%w: agent id and actions required", ErrValidation)
	}
	for _, a := range actions {
		if a != ActionRead && a != ActionWrite && a != ActionDelete {
			return false, fmt.Errorf("%w: unknown action %q", ErrValidation, a)
		}
	}

	if err := s.queue.Wait(ctx); err != nil {
		return false, fmt.Errorf("%w: throttle: %v", ErrStorageFailure, err)
	}
	rec, err := s.store.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}

	merged := false
	for i, p := range rec.AccessPolicy.Permissions {
		if p.AgentID != agentID {
			continue
		}
		rec.AccessPolicy.Permissions[i].Actions = mergeActions(p.Actions, actions)
		merged = true
		break
	}
	if !merged {
		rec.AccessPolicy.Permissions = append(rec.AccessPolicy.Permissions, Permission{
			AgentID: agentID,
			Actions: append([]Action(nil), actions...),
		})
	}

	if err := s.persistPolicy(ctx, rec); err != nil {
		return false, err
	}
	s.logger.Info("permission granted",
		zap.String("record_id", id), zap.String("agent_id", agentID))
	return true, nil
}

// RevokePermission removes an agent's entry from a record's access
// policy. Returns false when the record or the entry is absent.
func (s *Service) RevokePermission(ctx context.Context, id, agentID string) (bool, error) {
	if err := s.queue.Wait(ctx); err != nil {
		return false, fmt.Errorf("%w: throttle: %v", ErrStorageFailure, err)
	}
	rec, err := s.store.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}

	perms := rec.AccessPolicy.Permissions
	kept := perms[:0]
	removed := false
	for _, p := range perms {
		if p.AgentID == agentID {
			removed = true
			continue
		}
		kept = append(kept, p)
	}
	if !removed {
		return false, nil
	}
	rec.AccessPolicy.Permissions = kept

	if err := s.persistPolicy(ctx, rec); err != nil {
		return false, err
	}
	s.logger.Info("permission revoked",
		zap.String("record_id", id), zap.String("agent_id", agentID))
	return true, nil
}

// GetMemoryPermissions returns a record's permission list, or nil when
// the record does not exist.
func (s *Service) GetMemoryPermissions(ctx context.Context, id string) ([]Permission, error) {
	if err := s.queue.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: throttle: %v", ErrStorageFailure, err)
	}
	rec, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return rec.Clone().AccessPolicy.Permissions, nil
}

// persistPolicy writes a policy change as a new entity generation.
func (s *Service) persistPolicy(ctx context.Context, rec *Record) error {
	rec.Metadata.Version++
	rec.UpdatedAt = time.Now()

	res, err := s.store.UpdateMemory(ctx, rec.StorageHandle, rec)
	if err != nil {
		return fmt.Errorf("persist access policy: %w", err)
	}
	rec.StorageHandle = res.EntityKey
	rec.TxHash = res.TxHash
	s.cache.Del(rec.ID)
	return nil
}

// authorize checks whether an actor may perform an action on a record.
// The owner and the internal caller (empty actor) always pass.
func (s *Service) authorize(rec *Record, actor string, action Action) error {
	if actor == "" || actor == rec.AccessPolicy.Owner {
		return nil
	}
	for _, p := range rec.AccessPolicy.Permissions {
		if p.AgentID != actor {
			continue
		}
		for _, a := range p.Actions {
			if a == action {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: agent %s lacks %s on %s", ErrUnauthorized, actor, action, rec.ID)
}

func mergeActions(existing, added []Action) []Action {
	seen := make(map[Action]bool, len(existing))
	out := append([]Action(nil), existing...)
	for _, a := range existing {
		seen[a] = true
	}
	for _, a := range added {
		if !seen[a] {
			out = append(out, a)
			seen[a] = true
		}
	}
	return out
}
